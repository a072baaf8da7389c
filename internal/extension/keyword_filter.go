package extension

import (
	"context"
	"sort"
	"strings"
	"sync"

	"whatstopic/internal/models"

	"github.com/sirupsen/logrus"
)

// KeywordFilter drops inbound text and captions containing any keyword,
// case-insensitively. "/keywords" lists the active set.
type KeywordFilter struct {
	mu       sync.RWMutex
	keywords []string
	logger   *logrus.Logger
}

func NewKeywordFilter(keywords []string) *KeywordFilter {
	kf := &KeywordFilter{}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			kf.keywords = append(kf.keywords, k)
		}
	}
	sort.Strings(kf.keywords)
	return kf
}

func (kf *KeywordFilter) Name() string { return "keyword_filter" }

func (kf *KeywordFilter) Init(_ context.Context, host Host) error {
	kf.logger = host.Logger()
	return nil
}

func (kf *KeywordFilter) Destroy(context.Context) error { return nil }

func (kf *KeywordFilter) MessageHooks() []MessageHook {
	return []MessageHook{kf.filter}
}

func (kf *KeywordFilter) Commands() []Command {
	return []Command{{
		Name:        "keywords",
		Description: "list filtered keywords",
		Handle: func(context.Context, CommandContext, []string) (string, error) {
			kf.mu.RLock()
			defer kf.mu.RUnlock()
			if len(kf.keywords) == 0 {
				return "No keywords are filtered.", nil
			}
			return "Filtered keywords: " + strings.Join(kf.keywords, ", "), nil
		},
	}}
}

func (kf *KeywordFilter) filter(_ context.Context, env *models.MessageEnvelope) (Verdict, error) {
	if env.Direction != models.DirectionInbound || env.TextOrCaption == "" {
		return Continue, nil
	}
	text := strings.ToLower(env.TextOrCaption)

	kf.mu.RLock()
	defer kf.mu.RUnlock()
	for _, k := range kf.keywords {
		if strings.Contains(text, k) {
			if kf.logger != nil {
				kf.logger.WithField("keyword", k).Debug("Message dropped by keyword filter")
			}
			return Drop, nil
		}
	}
	return Continue, nil
}
