// Package extension lets optional modules observe and rewrite bridged
// messages and answer slash commands typed in a topic.
package extension

import (
	"context"
	"errors"

	"whatstopic/internal/models"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNameRequired indicates a module without a name.
	ErrNameRequired = errors.New("extension name is required")
	// ErrAlreadyRegistered indicates a duplicate module or command name.
	ErrAlreadyRegistered = errors.New("extension already registered")
	// ErrEmptyModule indicates a module that provides neither hooks nor commands.
	ErrEmptyModule = errors.New("extension provides no hooks or commands")
	// ErrUnknownCommand indicates a command no module registered.
	ErrUnknownCommand = errors.New("unknown command")
)

// Kind tells what a module contributes. It is derived at registration.
type Kind int

const (
	KindHook Kind = iota + 1
	KindCommand
	KindBoth
)

func (k Kind) String() string {
	switch k {
	case KindHook:
		return "hook"
	case KindCommand:
		return "command"
	case KindBoth:
		return "hook+command"
	}
	return "unknown"
}

// Verdict is a hook's decision about one envelope
type Verdict int

const (
	// Continue passes the (possibly rewritten) envelope on.
	Continue Verdict = iota
	// Drop filters the envelope; nothing is delivered.
	Drop
)

// MessageHook runs before translation. It may rewrite env in place.
type MessageHook func(ctx context.Context, env *models.MessageEnvelope) (Verdict, error)

// CommandContext says where a command was typed.
type CommandContext struct {
	TopicID      int64
	SourceChatID string
	UserID       int64
}

// Command answers "/name args..." typed in a topic. The returned text is
// posted back into the same topic.
type Command struct {
	Name        string
	Description string
	Handle      func(ctx context.Context, cc CommandContext, args []string) (string, error)
}

// Host is what the bridge exposes to modules.
type Host interface {
	Logger() *logrus.Logger
	SendNotice(ctx context.Context, topicID int64, text string) error
}

// Module is one extension.
type Module interface {
	Name() string
	Init(ctx context.Context, host Host) error
	Commands() []Command
	MessageHooks() []MessageHook
	Destroy(ctx context.Context) error
}
