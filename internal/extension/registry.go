package extension

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"whatstopic/internal/models"
)

type registered struct {
	module Module
	kind   Kind
	hooks  []MessageHook
}

// Registry holds initialized modules in registration order.
type Registry struct {
	mu       sync.RWMutex
	host     Host
	modules  []*registered
	names    map[string]Kind
	commands map[string]Command
}

func NewRegistry(host Host) *Registry {
	return &Registry{
		host:     host,
		names:    make(map[string]Kind),
		commands: make(map[string]Command),
	}
}

// Register initializes m and records what it provides.
func (r *Registry) Register(ctx context.Context, m Module) error {
	name := strings.TrimSpace(m.Name())
	if name == "" {
		return ErrNameRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	if err := m.Init(ctx, r.host); err != nil {
		return fmt.Errorf("init extension %s: %w", name, err)
	}

	hooks := m.MessageHooks()
	commands := m.Commands()
	var kind Kind
	switch {
	case len(hooks) > 0 && len(commands) > 0:
		kind = KindBoth
	case len(hooks) > 0:
		kind = KindHook
	case len(commands) > 0:
		kind = KindCommand
	default:
		_ = m.Destroy(ctx)
		return fmt.Errorf("%w: %s", ErrEmptyModule, name)
	}

	for _, c := range commands {
		cmd := strings.ToLower(strings.TrimPrefix(c.Name, "/"))
		if _, ok := r.commands[cmd]; ok {
			_ = m.Destroy(ctx)
			return fmt.Errorf("%w: command /%s", ErrAlreadyRegistered, cmd)
		}
	}
	for _, c := range commands {
		r.commands[strings.ToLower(strings.TrimPrefix(c.Name, "/"))] = c
	}

	r.names[name] = kind
	r.modules = append(r.modules, &registered{module: m, kind: kind, hooks: hooks})
	return nil
}

// KindOf reports what a registered module provides.
func (r *Registry) KindOf(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.names[name]
	return k, ok
}

// RunHooks passes env through every hook in registration order. It stops at
// the first Drop and reports the module that dropped it.
func (r *Registry) RunHooks(ctx context.Context, env *models.MessageEnvelope) (Verdict, string, error) {
	r.mu.RLock()
	modules := r.modules
	r.mu.RUnlock()

	for _, reg := range modules {
		for _, hook := range reg.hooks {
			verdict, err := hook(ctx, env)
			if err != nil {
				return Continue, reg.module.Name(), fmt.Errorf("extension %s: %w", reg.module.Name(), err)
			}
			if verdict == Drop {
				return Drop, reg.module.Name(), nil
			}
		}
	}
	return Continue, "", nil
}

// IsCommand reports whether text looks like a slash command.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Dispatch runs the command in text. "/help" lists all commands.
func (r *Registry) Dispatch(ctx context.Context, cc CommandContext, text string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", ErrUnknownCommand
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Telegram appends the bot name in groups: /cmd@bot
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}

	if name == "help" {
		return r.help(), nil
	}

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}
	return cmd.Handle(ctx, cc, fields[1:])
}

func (r *Registry) help() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Commands:")
	for _, name := range names {
		fmt.Fprintf(&b, "\n/%s - %s", name, r.commands[name].Description)
	}
	return b.String()
}

// Close destroys modules in reverse registration order.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	modules := r.modules
	r.modules = nil
	r.names = make(map[string]Kind)
	r.commands = make(map[string]Command)
	r.mu.Unlock()

	var firstErr error
	for i := len(modules) - 1; i >= 0; i-- {
		if err := modules[i].module.Destroy(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("destroy extension %s: %w", modules[i].module.Name(), err)
		}
	}
	return firstErr
}
