package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContactMapping_GetDisplayName(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		contact  ContactMapping
		maxAge   time.Duration
		expected string
	}{
		{
			name:     "fresh name",
			contact:  ContactMapping{DisplayName: "Alice", Handle: "15551234567", LastSynced: now.Add(-time.Hour)},
			maxAge:   24 * time.Hour,
			expected: "Alice",
		},
		{
			name:     "missing name falls back to handle",
			contact:  ContactMapping{Handle: "15551234567", LastSynced: now},
			maxAge:   24 * time.Hour,
			expected: "15551234567",
		},
		{
			name:     "stale name falls back to handle",
			contact:  ContactMapping{DisplayName: "Alice", Handle: "15551234567", LastSynced: now.Add(-48 * time.Hour)},
			maxAge:   24 * time.Hour,
			expected: "15551234567",
		},
		{
			name:     "zero max age never goes stale",
			contact:  ContactMapping{DisplayName: "Alice", Handle: "15551234567"},
			maxAge:   0,
			expected: "Alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.contact.GetDisplayName(now, tt.maxAge))
		})
	}
}

func TestHandleFromChatID(t *testing.T) {
	assert.Equal(t, "15551234567", HandleFromChatID("15551234567@c.us"))
	assert.Equal(t, "120363025555555555", HandleFromChatID("120363025555555555@g.us"))
	assert.Equal(t, "plain", HandleFromChatID("plain"))
}

func TestIsGroupChatID(t *testing.T) {
	assert.True(t, IsGroupChatID("120363025555555555@g.us"))
	assert.False(t, IsGroupChatID("15551234567@c.us"))
}

func TestChatMapping_IsSuspended(t *testing.T) {
	m := &ChatMapping{State: StateActive}
	assert.False(t, m.IsSuspended())
	m.State = StateSuspended
	assert.True(t, m.IsSuspended())
}

func TestBridgeConfig_IsEnabled(t *testing.T) {
	assert.True(t, BridgeConfig{}.IsEnabled())
	off := false
	assert.False(t, BridgeConfig{Enabled: &off}.IsEnabled())
}
