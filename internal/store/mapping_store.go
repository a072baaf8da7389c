package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"whatstopic/internal/database"
	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/models"
	"whatstopic/internal/privacy"

	"github.com/sirupsen/logrus"
)

// MappingStore is the durable source of truth for chat, contact and user
// mappings with a read-through in-memory cache. The cache is only updated
// after the underlying write succeeds.
type MappingStore struct {
	docs   database.DocumentStore
	logger *logrus.Logger

	mu       sync.RWMutex
	chats    map[string]models.ChatMapping
	byTopic  map[int64]string
	contacts map[string]models.ContactMapping
	users    map[int64]models.UserMapping

	locks keyedMutex
}

func New(docs database.DocumentStore, logger *logrus.Logger) *MappingStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &MappingStore{
		docs:     docs,
		logger:   logger,
		chats:    make(map[string]models.ChatMapping),
		byTopic:  make(map[int64]string),
		contacts: make(map[string]models.ContactMapping),
		users:    make(map[int64]models.UserMapping),
		locks:    keyedMutex{locks: make(map[string]*refMutex)},
	}
}

// Warm loads every persisted mapping into the cache.
func (s *MappingStore) Warm(ctx context.Context) error {
	chats, err := s.ListChats(ctx)
	if err != nil {
		return err
	}

	rawContacts, err := s.docs.Find(ctx, database.CollectionContactMappings, nil)
	if err != nil {
		return fmt.Errorf("failed to load contact mappings: %w", err)
	}
	rawUsers, err := s.docs.Find(ctx, database.CollectionUserMappings, nil)
	if err != nil {
		return fmt.Errorf("failed to load user mappings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range chats {
		s.cacheChatLocked(m)
	}
	for _, raw := range rawContacts {
		var c models.ContactMapping
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("failed to decode contact mapping: %w", err)
		}
		s.contacts[c.SourceChatID] = c
	}
	for _, raw := range rawUsers {
		var u models.UserMapping
		if err := json.Unmarshal(raw, &u); err != nil {
			return fmt.Errorf("failed to decode user mapping: %w", err)
		}
		s.users[u.DestinationUserID] = u
	}

	s.logger.WithFields(logrus.Fields{
		"chats":    len(s.chats),
		"contacts": len(s.contacts),
		"users":    len(s.users),
	}).Info("Mapping cache warmed")
	return nil
}

func (s *MappingStore) cacheChatLocked(m models.ChatMapping) {
	if old, ok := s.chats[m.SourceChatID]; ok && old.DestinationTopicID != m.DestinationTopicID {
		delete(s.byTopic, old.DestinationTopicID)
	}
	s.chats[m.SourceChatID] = m
	if m.DestinationTopicID != 0 {
		s.byTopic[m.DestinationTopicID] = m.SourceChatID
	}
}

// GetChat returns the mapping for a source conversation or nil when unmapped.
func (s *MappingStore) GetChat(ctx context.Context, sourceChatID string) (*models.ChatMapping, error) {
	s.mu.RLock()
	m, ok := s.chats[sourceChatID]
	s.mu.RUnlock()
	if ok {
		return &m, nil
	}

	raw, err := s.docs.Get(ctx, database.CollectionChatMappings, sourceChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat mapping: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode chat mapping: %w", err)
	}

	s.mu.Lock()
	s.cacheChatLocked(m)
	s.mu.Unlock()
	return &m, nil
}

// ChatByTopic resolves a destination topic back to its mapping.
func (s *MappingStore) ChatByTopic(ctx context.Context, topicID int64) (*models.ChatMapping, error) {
	s.mu.RLock()
	sourceChatID, ok := s.byTopic[topicID]
	var m models.ChatMapping
	if ok {
		m = s.chats[sourceChatID]
	}
	s.mu.RUnlock()
	if ok {
		return &m, nil
	}

	raws, err := s.docs.Find(ctx, database.CollectionChatMappings, database.Filter{"destinationTopicId": topicID})
	if err != nil {
		return nil, fmt.Errorf("failed to find chat by topic: %w", err)
	}
	if len(raws) == 0 {
		return nil, nil
	}
	if len(raws) > 1 {
		s.logger.WithFields(logrus.Fields{
			"topic_id": topicID,
			"matches":  len(raws),
		}).Warn("Several chat mappings share one topic, using the first")
	}

	if err := json.Unmarshal(raws[0], &m); err != nil {
		return nil, fmt.Errorf("failed to decode chat mapping: %w", err)
	}

	s.mu.Lock()
	s.cacheChatLocked(m)
	s.mu.Unlock()
	return &m, nil
}

// CreateChat persists m only if the conversation has no mapping yet. When
// one already exists the stored mapping is returned with created=false.
func (s *MappingStore) CreateChat(ctx context.Context, m models.ChatMapping) (*models.ChatMapping, bool, error) {
	if m.SourceChatID == "" {
		return nil, false, fmt.Errorf("source chat id is required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.State == "" {
		m.State = models.StateActive
	}
	m.Active = m.State == models.StateActive

	existing, inserted, err := s.docs.InsertIfAbsent(ctx, database.CollectionChatMappings, m.SourceChatID, m)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create chat mapping: %w", err)
	}

	if !inserted {
		var stored models.ChatMapping
		if err := json.Unmarshal(existing, &stored); err != nil {
			return nil, false, fmt.Errorf("failed to decode existing chat mapping: %w", err)
		}
		s.mu.Lock()
		s.cacheChatLocked(stored)
		s.mu.Unlock()
		return &stored, false, nil
	}

	s.mu.Lock()
	s.cacheChatLocked(m)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"chat_id":  privacy.MaskChatID(m.SourceChatID),
		"topic_id": m.DestinationTopicID,
	}).Info("Chat mapping created")
	return &m, true, nil
}

// SaveChat overwrites the mapping for m.SourceChatID.
func (s *MappingStore) SaveChat(ctx context.Context, m models.ChatMapping) error {
	m.Active = m.State == models.StateActive
	if err := s.docs.Upsert(ctx, database.CollectionChatMappings, m.SourceChatID, m); err != nil {
		return fmt.Errorf("failed to save chat mapping: %w", err)
	}
	s.mu.Lock()
	s.cacheChatLocked(m)
	s.mu.Unlock()
	return nil
}

// UpdateChat applies fn to the current mapping and saves the result. Updates
// to the same conversation are serialized.
func (s *MappingStore) UpdateChat(ctx context.Context, sourceChatID string, fn func(*models.ChatMapping) error) (*models.ChatMapping, error) {
	unlock := s.locks.lock(sourceChatID)
	defer unlock()

	m, err := s.GetChat(ctx, sourceChatID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperrors.NewNotFoundError("chat mapping", privacy.MaskChatID(sourceChatID))
	}

	if err := fn(m); err != nil {
		return nil, err
	}
	if err := s.SaveChat(ctx, *m); err != nil {
		return nil, err
	}
	return m, nil
}

// TouchChat records a delivered message on the mapping.
func (s *MappingStore) TouchChat(ctx context.Context, sourceChatID string, at time.Time) error {
	_, err := s.UpdateChat(ctx, sourceChatID, func(m *models.ChatMapping) error {
		m.MessageCount++
		if at.After(m.LastMessageAt) {
			m.LastMessageAt = at
		}
		return nil
	})
	return err
}

// SetChatState moves a conversation between active and suspended.
func (s *MappingStore) SetChatState(ctx context.Context, sourceChatID string, state models.ConversationState, reason string) (*models.ChatMapping, error) {
	return s.UpdateChat(ctx, sourceChatID, func(m *models.ChatMapping) error {
		m.State = state
		if state == models.StateSuspended {
			m.SuspendedReason = reason
		} else {
			m.SuspendedReason = ""
		}
		return nil
	})
}

// ListChats returns every persisted chat mapping.
func (s *MappingStore) ListChats(ctx context.Context) ([]models.ChatMapping, error) {
	raws, err := s.docs.Find(ctx, database.CollectionChatMappings, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat mappings: %w", err)
	}
	chats := make([]models.ChatMapping, 0, len(raws))
	for _, raw := range raws {
		var m models.ChatMapping
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to decode chat mapping: %w", err)
		}
		chats = append(chats, m)
	}
	return chats, nil
}

// PurgeChat removes a conversation's mapping and any user mappings routing
// into it. The destination topic itself is left alone.
func (s *MappingStore) PurgeChat(ctx context.Context, sourceChatID string) error {
	unlock := s.locks.lock(sourceChatID)
	defer unlock()

	if err := s.docs.Delete(ctx, database.CollectionChatMappings, sourceChatID); err != nil {
		return fmt.Errorf("failed to delete chat mapping: %w", err)
	}

	raws, err := s.docs.Find(ctx, database.CollectionUserMappings, database.Filter{"sourceChatId": sourceChatID})
	if err != nil {
		return fmt.Errorf("failed to find user mappings: %w", err)
	}
	var purgedUsers []int64
	for _, raw := range raws {
		var u models.UserMapping
		if err := json.Unmarshal(raw, &u); err != nil {
			return fmt.Errorf("failed to decode user mapping: %w", err)
		}
		if err := s.docs.Delete(ctx, database.CollectionUserMappings, userKey(u.DestinationUserID)); err != nil {
			return fmt.Errorf("failed to delete user mapping: %w", err)
		}
		purgedUsers = append(purgedUsers, u.DestinationUserID)
	}

	s.mu.Lock()
	if old, ok := s.chats[sourceChatID]; ok {
		delete(s.byTopic, old.DestinationTopicID)
	}
	delete(s.chats, sourceChatID)
	for _, id := range purgedUsers {
		delete(s.users, id)
	}
	s.mu.Unlock()

	s.logger.WithField("chat_id", privacy.MaskChatID(sourceChatID)).Info("Chat mapping purged")
	return nil
}

// GetContact returns the cached contact identity or nil when unknown.
func (s *MappingStore) GetContact(ctx context.Context, sourceChatID string) (*models.ContactMapping, error) {
	s.mu.RLock()
	c, ok := s.contacts[sourceChatID]
	s.mu.RUnlock()
	if ok {
		return &c, nil
	}

	raw, err := s.docs.Get(ctx, database.CollectionContactMappings, sourceChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get contact mapping: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode contact mapping: %w", err)
	}

	s.mu.Lock()
	s.contacts[sourceChatID] = c
	s.mu.Unlock()
	return &c, nil
}

func (s *MappingStore) SaveContact(ctx context.Context, c models.ContactMapping) error {
	if c.SourceChatID == "" {
		return fmt.Errorf("source chat id is required")
	}
	if err := s.docs.Upsert(ctx, database.CollectionContactMappings, c.SourceChatID, c); err != nil {
		return fmt.Errorf("failed to save contact mapping: %w", err)
	}
	s.mu.Lock()
	s.contacts[c.SourceChatID] = c
	s.mu.Unlock()
	return nil
}

// GetUser returns the reverse route for a destination user or nil.
func (s *MappingStore) GetUser(ctx context.Context, userID int64) (*models.UserMapping, error) {
	s.mu.RLock()
	u, ok := s.users[userID]
	s.mu.RUnlock()
	if ok {
		return &u, nil
	}

	raw, err := s.docs.Get(ctx, database.CollectionUserMappings, userKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get user mapping: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("failed to decode user mapping: %w", err)
	}

	s.mu.Lock()
	s.users[userID] = u
	s.mu.Unlock()
	return &u, nil
}

func (s *MappingStore) SaveUser(ctx context.Context, u models.UserMapping) error {
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now().UTC()
	}
	if err := s.docs.Upsert(ctx, database.CollectionUserMappings, userKey(u.DestinationUserID), u); err != nil {
		return fmt.Errorf("failed to save user mapping: %w", err)
	}
	s.mu.Lock()
	s.users[u.DestinationUserID] = u
	s.mu.Unlock()
	return nil
}

// Counts reads the totals from the store, not the cache.
func (s *MappingStore) Counts(ctx context.Context) (models.MappingCounts, error) {
	var counts models.MappingCounts
	var err error

	if counts.Chats, err = s.docs.Count(ctx, database.CollectionChatMappings, nil); err != nil {
		return counts, fmt.Errorf("failed to count chats: %w", err)
	}
	if counts.Active, err = s.docs.Count(ctx, database.CollectionChatMappings, database.Filter{"state": string(models.StateActive)}); err != nil {
		return counts, fmt.Errorf("failed to count active chats: %w", err)
	}
	if counts.Suspended, err = s.docs.Count(ctx, database.CollectionChatMappings, database.Filter{"state": string(models.StateSuspended)}); err != nil {
		return counts, fmt.Errorf("failed to count suspended chats: %w", err)
	}
	if counts.Contacts, err = s.docs.Count(ctx, database.CollectionContactMappings, nil); err != nil {
		return counts, fmt.Errorf("failed to count contacts: %w", err)
	}
	if counts.Users, err = s.docs.Count(ctx, database.CollectionUserMappings, nil); err != nil {
		return counts, fmt.Errorf("failed to count users: %w", err)
	}
	return counts, nil
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
