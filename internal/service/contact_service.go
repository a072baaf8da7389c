package service

import (
	"context"
	"fmt"
	"time"

	"whatstopic/internal/constants"
	"whatstopic/internal/models"
	"whatstopic/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// ContactLookup is the part of the WhatsApp client the contact cache needs.
type ContactLookup interface {
	GetContact(ctx context.Context, contactID string) (*types.Contact, error)
	GetGroup(ctx context.Context, groupID string) (*types.Group, error)
}

// ContactService resolves display names for source conversations, caching
// them in the mapping store for cacheValidFor.
type ContactService struct {
	store         MappingRepository
	waClient      ContactLookup
	cacheValidFor time.Duration
	logger        *logrus.Logger
	now           func() time.Time
}

// NewContactService creates a contact service. cacheValidHours <= 0 uses the default.
func NewContactService(store MappingRepository, waClient ContactLookup, cacheValidHours int, logger *logrus.Logger) *ContactService {
	if cacheValidHours <= 0 {
		cacheValidHours = constants.DefaultContactCacheHours
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ContactService{
		store:         store,
		waClient:      waClient,
		cacheValidFor: time.Duration(cacheValidHours) * time.Hour,
		logger:        logger,
		now:           time.Now,
	}
}

// Resolve returns the contact mapping for a chat. A fresh cached entry is
// returned as is; otherwise the name is fetched from WhatsApp. When the fetch
// fails the stale entry, then pushName, then the bare handle are used.
func (cs *ContactService) Resolve(ctx context.Context, chatID, pushName string) models.ContactMapping {
	now := cs.now()
	cached, err := cs.store.GetContact(ctx, chatID)
	if err != nil {
		cs.logger.WithError(err).WithField(LogFieldChatID, ChatField(ctx, chatID)).Warn("Failed to read contact cache")
	}
	if cached != nil && !cached.IsStale(now, cs.cacheValidFor) && cached.DisplayName != "" {
		return *cached
	}

	fetched, err := cs.fetch(ctx, chatID)
	if err != nil {
		cs.logger.WithError(err).WithField(LogFieldChatID, ChatField(ctx, chatID)).Debug("Contact lookup failed, using fallback name")
		if cached != nil {
			return *cached
		}
		return models.ContactMapping{
			SourceChatID: chatID,
			DisplayName:  pushNameFor(chatID, pushName),
			Handle:       models.HandleFromChatID(chatID),
		}
	}

	if fetched.DisplayName == fetched.Handle {
		if name := pushNameFor(chatID, pushName); name != "" {
			fetched.DisplayName = name
		}
	}
	if err := cs.store.SaveContact(ctx, fetched); err != nil {
		cs.logger.WithError(err).WithField(LogFieldChatID, ChatField(ctx, chatID)).Warn("Failed to save contact")
	}
	return fetched
}

// Refresh bypasses the cache and stores the current name.
func (cs *ContactService) Refresh(ctx context.Context, chatID string) (models.ContactMapping, error) {
	fetched, err := cs.fetch(ctx, chatID)
	if err != nil {
		return models.ContactMapping{}, err
	}
	if err := cs.store.SaveContact(ctx, fetched); err != nil {
		return models.ContactMapping{}, fmt.Errorf("failed to save contact: %w", err)
	}
	return fetched, nil
}

func (cs *ContactService) fetch(ctx context.Context, chatID string) (models.ContactMapping, error) {
	mapping := models.ContactMapping{
		SourceChatID: chatID,
		Handle:       models.HandleFromChatID(chatID),
		LastSynced:   cs.now(),
	}

	if models.IsGroupChatID(chatID) {
		group, err := cs.waClient.GetGroup(ctx, chatID)
		if err != nil {
			return models.ContactMapping{}, fmt.Errorf("failed to fetch group: %w", err)
		}
		if group == nil {
			return models.ContactMapping{}, fmt.Errorf("group not found")
		}
		mapping.DisplayName = group.GetDisplayName()
		if mapping.DisplayName == chatID {
			mapping.DisplayName = mapping.Handle
		}
		return mapping, nil
	}

	contact, err := cs.waClient.GetContact(ctx, chatID)
	if err != nil {
		return models.ContactMapping{}, fmt.Errorf("failed to fetch contact: %w", err)
	}
	if contact == nil {
		return models.ContactMapping{}, fmt.Errorf("contact not found")
	}
	mapping.DisplayName = contact.GetDisplayName()
	if mapping.DisplayName == "" {
		mapping.DisplayName = mapping.Handle
	}
	return mapping, nil
}

// pushNameFor only trusts the sender's push name for private chats; in a
// group it names the participant, not the group.
func pushNameFor(chatID, pushName string) string {
	if models.IsGroupChatID(chatID) {
		return ""
	}
	return pushName
}
