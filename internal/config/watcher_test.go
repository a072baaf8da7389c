package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"whatstopic/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcher_Start_InvalidPath(t *testing.T) {
	watcher := NewConfigWatcher(filepath.Join(t.TempDir(), "missing.json"), logrus.New())

	err := watcher.Start(context.Background())
	assert.Error(t, err)
}

func TestConfigWatcher_ReloadsAndNotifies(t *testing.T) {
	path := writeConfig(t, "config.json", validJSONConfig)

	watcher := NewConfigWatcher(path, logrus.New())
	watcher.pollInterval = 20 * time.Millisecond

	changes := make(chan *models.Config, 1)
	watcher.OnConfigChange(func(cfg *models.Config) {
		changes <- cfg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- watcher.Start(ctx) }()

	require.Eventually(t, func() bool { return watcher.GetConfig() != nil }, time.Second, 10*time.Millisecond)
	assert.True(t, watcher.GetConfig().Bridge.IsEnabled())

	updated := `{
		"whatsapp": {"api_base_url": "http://waha:3000"},
		"telegram": {"bot_token": "123:abc", "group_chat_id": -1001234567890},
		"database": {"path": "whatstopic.db"},
		"media": {"cache_dir": "media-cache"},
		"bridge": {"enabled": false},
		"log_level": "debug"
	}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case cfg := <-changes:
		assert.False(t, cfg.Bridge.IsEnabled())
		assert.Equal(t, "debug", cfg.LogLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("config change callback was not invoked")
	}

	assert.False(t, watcher.GetConfig().Bridge.IsEnabled())

	cancel()
	assert.NoError(t, <-done)
}

func TestConfigWatcher_CallbackPanicIsContained(t *testing.T) {
	path := writeConfig(t, "config.json", validJSONConfig)
	watcher := NewConfigWatcher(path, logrus.New())

	called := make(chan struct{}, 1)
	watcher.OnConfigChange(func(*models.Config) { panic("boom") })
	watcher.OnConfigChange(func(*models.Config) { called <- struct{}{} })

	watcher.reloadConfig()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("second callback did not run")
	}
}
