package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"whatstopic/internal/config"
	"whatstopic/internal/database"

	"github.com/sirupsen/logrus"
)

// keyedSource is a document store that can enumerate its keys.
type keyedSource interface {
	Keys(ctx context.Context, collection string) ([]string, error)
	Get(ctx context.Context, collection, key string) (json.RawMessage, error)
}

// copyStats counts documents per collection.
type copyStats struct {
	Copied  int
	Skipped int
}

func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file; its database section is the destination")
	sourcePath := flag.String("sqlite", "./whatstopic.db", "SQLite database to copy from")
	initOnly := flag.Bool("init", false, "Only create or upgrade the SQLite schema at -sqlite")
	dryRun := flag.Bool("dry-run", false, "Report what would be copied without writing")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secret := os.Getenv(config.EnvPrefix + "DB_ENCRYPTION_SECRET")
	source, err := database.NewSQLiteStore(*sourcePath, secret)
	if err != nil {
		logger.Fatalf("Failed to open SQLite store: %v", err)
	}
	defer source.Close()

	if *initOnly {
		logger.WithField("path", *sourcePath).Info("SQLite schema is up to date")
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.Driver != "mongo" {
		logger.Fatalf("Destination driver is %q; set database.driver to mongo to migrate", cfg.Database.Driver)
	}

	dest, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to open destination store: %v", err)
	}
	defer dest.Close()

	stats, err := copyDocuments(ctx, source, dest, *dryRun, logger)
	if err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
	for collection, s := range stats {
		logger.WithFields(logrus.Fields{
			"collection": collection,
			"copied":     s.Copied,
			"skipped":    s.Skipped,
			"dry_run":    *dryRun,
		}).Info("Collection migrated")
	}
	fmt.Println("Migration completed. Point whatstopic at the new store and restart it.")
}

// copyDocuments copies every mapping document that the destination does not
// already hold. Existing destination documents win, so reruns are safe.
func copyDocuments(ctx context.Context, source keyedSource, dest database.DocumentStore, dryRun bool, logger *logrus.Logger) (map[string]copyStats, error) {
	stats := make(map[string]copyStats, len(database.Collections))
	for _, collection := range database.Collections {
		keys, err := source.Keys(ctx, collection)
		if err != nil {
			return stats, fmt.Errorf("list %s: %w", collection, err)
		}

		var s copyStats
		for _, key := range keys {
			doc, err := source.Get(ctx, collection, key)
			if err != nil {
				return stats, fmt.Errorf("read %s/%s: %w", collection, key, err)
			}
			if doc == nil {
				continue
			}

			if dryRun {
				existing, err := dest.Get(ctx, collection, key)
				if err != nil {
					return stats, fmt.Errorf("check %s: %w", collection, err)
				}
				if existing == nil {
					s.Copied++
				} else {
					s.Skipped++
				}
				continue
			}

			_, inserted, err := dest.InsertIfAbsent(ctx, collection, key, doc)
			if err != nil {
				return stats, fmt.Errorf("write %s: %w", collection, err)
			}
			if inserted {
				s.Copied++
			} else {
				s.Skipped++
			}
		}
		stats[collection] = s
		logger.WithFields(logrus.Fields{
			"collection": collection,
			"documents":  len(keys),
		}).Debug("Scanned collection")
	}
	return stats, nil
}
