package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"whatstopic/internal/cache"
	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/models"
	"whatstopic/pkg/telegram"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testGroup = int64(-1001)

type translatorFixture struct {
	tr      *Translator
	tg      *fakeTelegram
	wa      *mockWAClient
	media   *fakeMediaRunner
	replies *cache.MemoryReplyIndex
}

func newTranslatorFixture(t *testing.T) *translatorFixture {
	t.Helper()
	f := &translatorFixture{
		tg:      newFakeTelegram(),
		wa:      &mockWAClient{},
		media:   &fakeMediaRunner{},
		replies: cache.NewMemoryReplyIndex(100, time.Hour),
	}
	f.tr = NewTranslator(f.tg, f.wa, f.media, f.replies, TranslatorConfig{GroupChatID: testGroup}, quietLogger())
	return f
}

func inbound(kind models.Kind, mutate func(env *models.MessageEnvelope)) *models.PendingDelivery {
	env := &models.MessageEnvelope{
		OriginID:          "m-new",
		Direction:         models.DirectionInbound,
		SourceChatID:      "111@c.us",
		SenderID:          "111@c.us",
		SenderDisplayName: "Alice",
		Kind:              kind,
		Timestamp:         time.Now(),
	}
	if mutate != nil {
		mutate(env)
	}
	return models.NewPendingDelivery(env, 3)
}

func TestEmit_TextWithLabelAndReply(t *testing.T) {
	f := newTranslatorFixture(t)
	ctx := context.Background()
	require.NoError(t, f.replies.Record(ctx, cache.ReplyEntry{OriginID: "m-old", SourceChatID: "111@c.us", TopicID: 10, DestinationMessageID: 55}))

	item := inbound(models.KindText, func(env *models.MessageEnvelope) {
		env.TextOrCaption = "hello <3"
		env.ReplyToOriginID = "m-old"
	})
	result, err := f.tr.Emit(ctx, item, 10)
	require.NoError(t, err)

	calls := f.tg.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "<b>Alice</b>: hello &lt;3", calls[0].Text)
	assert.Equal(t, int64(10), calls[0].Opts.ThreadID)
	assert.Equal(t, int64(55), calls[0].Opts.ReplyToMessageID)
	assert.Equal(t, telegram.ParseModeHTML, calls[0].Opts.ParseMode)
	assert.Equal(t, calls[0].MessageID, result.DestinationMessageID)
	assert.Equal(t, 1, result.Artifacts)
	assert.False(t, result.Notice)
}

func TestEmit_SenderLabels(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(env *models.MessageEnvelope)
		want   string
	}{
		{"contact name", nil, "<b>Alice</b>: hi"},
		{"handle fallback", func(env *models.MessageEnvelope) { env.SenderDisplayName = "" }, "<b>111</b>: hi"},
		{"self in private chat", func(env *models.MessageEnvelope) { env.FromSelf = true }, "hi"},
		{"self in group", func(env *models.MessageEnvelope) {
			env.FromSelf = true
			env.IsGroup = true
			env.SourceChatID = "g1@g.us"
		}, "<b>You</b>: hi"},
		{"group member", func(env *models.MessageEnvelope) {
			env.IsGroup = true
			env.SourceChatID = "g1@g.us"
			env.SenderDisplayName = "Bob"
		}, "<b>Bob</b>: hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTranslatorFixture(t)
			item := inbound(models.KindText, func(env *models.MessageEnvelope) {
				env.TextOrCaption = "hi"
				if tt.mutate != nil {
					tt.mutate(env)
				}
			})
			_, err := f.tr.Emit(context.Background(), item, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, f.tg.texts())
		})
	}
}

func TestEmit_LongTextIsSplit(t *testing.T) {
	f := newTranslatorFixture(t)
	item := inbound(models.KindText, func(env *models.MessageEnvelope) {
		env.TextOrCaption = strings.Repeat("a", 5000)
	})
	result, err := f.tr.Emit(context.Background(), item, 10)
	require.NoError(t, err)

	texts := f.tg.texts()
	require.Len(t, texts, 2)
	for _, text := range texts {
		assert.LessOrEqual(t, len([]rune(text)), 4096+len("<b></b>"))
	}
	assert.Equal(t, 2, result.Artifacts)
	assert.Equal(t, f.tg.calls()[0].MessageID, result.DestinationMessageID)
	assert.Equal(t, 2, item.CompletedSteps)
}

func TestEmit_Location(t *testing.T) {
	f := newTranslatorFixture(t)
	item := inbound(models.KindLocation, func(env *models.MessageEnvelope) {
		env.Location = &models.Location{Latitude: 52.5, Longitude: 13.4, Description: "Cafe"}
	})
	result, err := f.tr.Emit(context.Background(), item, 10)
	require.NoError(t, err)

	calls := f.tg.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "location", calls[0].Method)
	assert.Empty(t, calls[0].Opts.ParseMode)
	assert.Equal(t, "message", calls[1].Method)
	assert.Equal(t, "<b>Alice</b> shared a location: Cafe", calls[1].Text)
	assert.Equal(t, calls[0].MessageID, result.DestinationMessageID)
}

func TestEmit_ResumesAfterPartialFailure(t *testing.T) {
	f := newTranslatorFixture(t)
	f.tg.sendErrs = []error{apperrors.NewAPIError("telegram", "sendMessage", 502, assert.AnError)}
	item := inbound(models.KindLocation, func(env *models.MessageEnvelope) {
		env.Location = &models.Location{Latitude: 1, Longitude: 2}
	})

	_, err := f.tr.Emit(context.Background(), item, 10)
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, 1, item.CompletedSteps)

	_, err = f.tr.Emit(context.Background(), item, 10)
	require.NoError(t, err)
	assert.Len(t, f.tg.byMethod("location"), 1, "location must not repeat")
	assert.Len(t, f.tg.byMethod("message"), 1)
}

func TestEmit_Contact(t *testing.T) {
	t.Run("with phone", func(t *testing.T) {
		f := newTranslatorFixture(t)
		item := inbound(models.KindContact, func(env *models.MessageEnvelope) {
			env.Contact = &models.ContactCard{DisplayName: "Bob van Dyke", PhoneNumber: "+15550001"}
		})
		result, err := f.tr.Emit(context.Background(), item, 10)
		require.NoError(t, err)

		calls := f.tg.calls()
		require.Len(t, calls, 2)
		assert.Equal(t, "contact", calls[0].Method)
		assert.Equal(t, "<b>Alice</b> shared a contact", calls[1].Text)
		assert.Equal(t, calls[0].MessageID, result.DestinationMessageID)
		contacts := f.tg.byMethod("contact")
		require.Len(t, contacts, 1)
		assert.Equal(t, "Bob", contacts[0].Contact.FirstName)
		assert.Equal(t, "van Dyke", contacts[0].Contact.LastName)
		assert.Equal(t, "+15550001", contacts[0].Contact.PhoneNumber)
	})

	t.Run("without phone", func(t *testing.T) {
		f := newTranslatorFixture(t)
		item := inbound(models.KindContact, func(env *models.MessageEnvelope) {
			env.Contact = &models.ContactCard{DisplayName: "Bob"}
		})
		_, err := f.tr.Emit(context.Background(), item, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"<b>Alice</b>: 👤 Bob"}, f.tg.texts())
		assert.Empty(t, f.tg.byMethod("contact"))
	})
}

func TestEmit_Reaction(t *testing.T) {
	ctx := context.Background()
	reaction := func(emoji, target string) *models.PendingDelivery {
		return inbound(models.KindReaction, func(env *models.MessageEnvelope) {
			env.Reaction = &models.Reaction{Emoji: emoji, TargetOriginID: target}
		})
	}

	t.Run("native reaction on mirrored message", func(t *testing.T) {
		f := newTranslatorFixture(t)
		require.NoError(t, f.replies.Record(ctx, cache.ReplyEntry{OriginID: "m1", DestinationMessageID: 500}))
		_, err := f.tr.Emit(ctx, reaction("👍", "m1"), 10)
		require.NoError(t, err)
		reactions := f.tg.byMethod("reaction")
		require.Len(t, reactions, 1)
		assert.Equal(t, int64(500), reactions[0].MessageID)
		assert.Equal(t, "👍", reactions[0].Emoji)
	})

	t.Run("rejected emoji becomes text reply", func(t *testing.T) {
		f := newTranslatorFixture(t)
		f.tg.reactionErr = apperrors.NewAPIError("telegram", "setMessageReaction", 400, assert.AnError)
		require.NoError(t, f.replies.Record(ctx, cache.ReplyEntry{OriginID: "m1", DestinationMessageID: 500}))
		_, err := f.tr.Emit(ctx, reaction("🦄", "m1"), 10)
		require.NoError(t, err)
		calls := f.tg.byMethod("message")
		require.Len(t, calls, 1)
		assert.Equal(t, "<b>Alice</b> reacted 🦄", calls[0].Text)
		assert.Equal(t, int64(500), calls[0].Opts.ReplyToMessageID)
	})

	t.Run("unknown target", func(t *testing.T) {
		f := newTranslatorFixture(t)
		_, err := f.tr.Emit(ctx, reaction("👍", "gone"), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"<b>Alice</b> reacted 👍 to an earlier message"}, f.tg.texts())
	})
}

func TestEmit_Unsupported(t *testing.T) {
	f := newTranslatorFixture(t)
	item := inbound(models.KindUnsupported, func(env *models.MessageEnvelope) { env.UnsupportedLabel = "poll" })
	_, err := f.tr.Emit(context.Background(), item, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"<b>Alice</b>: [unsupported content: poll]"}, f.tg.texts())
}

func TestEmit_Media(t *testing.T) {
	ref := &models.MediaRef{Platform: models.PlatformWhatsApp, URL: "http://waha/f"}

	t.Run("caption carries label", func(t *testing.T) {
		f := newTranslatorFixture(t)
		item := inbound(models.KindImage, func(env *models.MessageEnvelope) {
			env.MediaRef = ref
			env.TextOrCaption = "sunset"
		})
		result, err := f.tr.Emit(context.Background(), item, 10)
		require.NoError(t, err)

		calls := f.media.recorded()
		require.Len(t, calls, 1)
		assert.Equal(t, "<b>Alice</b>: sunset", calls[0].Caption)
		assert.Equal(t, models.PlatformTelegram, calls[0].Target.Platform)
		assert.Equal(t, int64(10), calls[0].Target.TopicID)
		assert.Equal(t, testGroup, calls[0].Target.ChatID)
		assert.Equal(t, int64(901), result.DestinationMessageID)
		assert.Empty(t, f.tg.texts())
	})

	t.Run("sticker gets a label message", func(t *testing.T) {
		f := newTranslatorFixture(t)
		item := inbound(models.KindSticker, func(env *models.MessageEnvelope) { env.MediaRef = ref })
		result, err := f.tr.Emit(context.Background(), item, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"<b>Alice</b>:"}, f.tg.texts())
		assert.Equal(t, int64(901), result.DestinationMessageID)
		assert.Equal(t, 2, result.Artifacts)
	})

	t.Run("long caption follows as text", func(t *testing.T) {
		f := newTranslatorFixture(t)
		long := strings.Repeat("b", 2000)
		item := inbound(models.KindVideo, func(env *models.MessageEnvelope) {
			env.MediaRef = ref
			env.TextOrCaption = long
		})
		_, err := f.tr.Emit(context.Background(), item, 10)
		require.NoError(t, err)
		calls := f.media.recorded()
		require.Len(t, calls, 1)
		assert.Equal(t, "<b>Alice</b>", calls[0].Caption)
		assert.Equal(t, []string{long}, f.tg.texts())
	})

	t.Run("oversize media becomes a notice", func(t *testing.T) {
		f := newTranslatorFixture(t)
		f.media.errs = []error{apperrors.NewMediaTooLargeError("image", 20<<20, 16<<20)}
		item := inbound(models.KindImage, func(env *models.MessageEnvelope) { env.MediaRef = ref })
		result, err := f.tr.Emit(context.Background(), item, 10)
		require.NoError(t, err)
		assert.True(t, result.Notice)
		assert.Equal(t, []string{"<b>Alice</b>: [image not delivered: media too large (limit 16 MB)]"}, f.tg.texts())
	})

	t.Run("transient failure is returned", func(t *testing.T) {
		f := newTranslatorFixture(t)
		f.media.errs = []error{apperrors.NewAPIError("telegram", "sendPhoto", 503, assert.AnError)}
		item := inbound(models.KindImage, func(env *models.MessageEnvelope) { env.MediaRef = ref })
		_, err := f.tr.Emit(context.Background(), item, 10)
		require.Error(t, err)
		assert.True(t, apperrors.IsTransient(err))
		assert.Empty(t, f.tg.texts())
		assert.Zero(t, item.CompletedSteps)
	})
}

func outbound(kind models.Kind, mutate func(env *models.MessageEnvelope)) *models.PendingDelivery {
	env := &models.MessageEnvelope{
		OriginID:             "-1001:70",
		Direction:            models.DirectionOutbound,
		Kind:                 kind,
		DestinationChatID:    testGroup,
		DestinationTopicID:   10,
		DestinationMessageID: 70,
		DestinationUserID:    42,
	}
	if mutate != nil {
		mutate(env)
	}
	return models.NewPendingDelivery(env, 3)
}

func TestEmitToSource_TextWithReply(t *testing.T) {
	f := newTranslatorFixture(t)
	ctx := context.Background()
	require.NoError(t, f.replies.Record(ctx, cache.ReplyEntry{OriginID: "m1", DestinationMessageID: 60}))
	f.wa.On("SendText", mock.Anything, "111@c.us", "on my way", "m1").Return(sentResponse("true_111@c.us_X"), nil)

	item := outbound(models.KindText, func(env *models.MessageEnvelope) {
		env.TextOrCaption = "on my way"
		env.ReplyToDestinationID = 60
	})
	result, err := f.tr.EmitToSource(ctx, item, "111@c.us")
	require.NoError(t, err)
	assert.Equal(t, "true_111@c.us_X", result.SourceMessageID)
	f.wa.AssertExpectations(t)
}

func TestEmitToSource_LocationAndContactAsText(t *testing.T) {
	f := newTranslatorFixture(t)
	f.wa.On("SendText", mock.Anything, "111@c.us", "📍 https://maps.google.com/?q=52.500000,13.400000", "").Return(sentResponse("a"), nil)
	f.wa.On("SendText", mock.Anything, "111@c.us", "👤 Bob +15550001", "").Return(sentResponse("b"), nil)

	_, err := f.tr.EmitToSource(context.Background(), outbound(models.KindLocation, func(env *models.MessageEnvelope) {
		env.Location = &models.Location{Latitude: 52.5, Longitude: 13.4}
	}), "111@c.us")
	require.NoError(t, err)
	_, err = f.tr.EmitToSource(context.Background(), outbound(models.KindContact, func(env *models.MessageEnvelope) {
		env.Contact = &models.ContactCard{DisplayName: "Bob", PhoneNumber: "+15550001"}
	}), "111@c.us")
	require.NoError(t, err)
	f.wa.AssertExpectations(t)
}

func TestEmitToSource_Reaction(t *testing.T) {
	f := newTranslatorFixture(t)
	ctx := context.Background()
	require.NoError(t, f.replies.Record(ctx, cache.ReplyEntry{OriginID: "m1", DestinationMessageID: 70}))
	f.wa.On("SendReaction", mock.Anything, "111@c.us", "m1", "👍").Return(sentResponse(""), nil)

	result, err := f.tr.EmitToSource(ctx, outbound(models.KindReaction, func(env *models.MessageEnvelope) {
		env.Reaction = &models.Reaction{Emoji: "👍"}
	}), "111@c.us")
	require.NoError(t, err)
	assert.Equal(t, "m1", result.SourceMessageID)
	f.wa.AssertExpectations(t)
}

func TestEmitToSource_UnsupportedPostsNotice(t *testing.T) {
	f := newTranslatorFixture(t)
	item := outbound(models.KindUnsupported, func(env *models.MessageEnvelope) { env.UnsupportedLabel = "poll" })

	result, err := f.tr.EmitToSource(context.Background(), item, "111@c.us")
	require.NoError(t, err)
	assert.True(t, result.Notice)

	calls := f.tg.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "⚠️ Not delivered: unsupported content: poll", calls[0].Text)
	assert.Equal(t, int64(70), calls[0].Opts.ReplyToMessageID)
	assert.Equal(t, int64(10), calls[0].Opts.ThreadID)
	f.wa.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEmitToSource_Media(t *testing.T) {
	f := newTranslatorFixture(t)
	ref := &models.MediaRef{Platform: models.PlatformTelegram, FileID: "file1"}
	result, err := f.tr.EmitToSource(context.Background(), outbound(models.KindVoice, func(env *models.MessageEnvelope) {
		env.MediaRef = ref
	}), "111@c.us")
	require.NoError(t, err)
	assert.Equal(t, "true_sent_media", result.SourceMessageID)

	calls := f.media.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, models.PlatformWhatsApp, calls[0].Target.Platform)
	assert.Equal(t, "111@c.us", calls[0].Target.SourceChatID)
}

func TestSplitText(t *testing.T) {
	assert.Nil(t, splitText("", 10))
	assert.Equal(t, []string{"short"}, splitText("short", 10))
	assert.Equal(t, []string{"abcde\n", "fghij"}, splitText("abcde\nfghij", 8))
	assert.Equal(t, []string{"aaaa", "aaaa", "aa"}, splitText("aaaaaaaaaa", 4))
}
