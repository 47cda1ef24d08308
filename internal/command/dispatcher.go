// Package command pattern-matches chat input against a registered command
// table and executes side effects through the session manager.
package command

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/parlor/internal/embed"
	"github.com/charlesng35/parlor/pkg/logger"
)

// Gateway is the slice of the session manager handed to command handlers.
type Gateway interface {
	// BroadcastMessage re-enters the normal message pipeline on behalf of
	// the command issuer (escaping, embed validation, mention resolution).
	BroadcastMessage(identityID, text string, em *embed.Embed)
	// Rename applies a display-name change and announces it.
	Rename(ctx context.Context, identityID, name string) error
}

// Sender identifies the issuing identity for a command invocation.
type Sender struct {
	ID    string
	Name  string
	IsBot bool
}

// HandlerFunc executes one command. args carries the input with the trigger
// stripped and surrounding whitespace trimmed.
type HandlerFunc func(ctx context.Context, gw Gateway, sender Sender, args string)

// Command binds a trigger to a handler. Matching is per command: Exact
// commands consume only the bare trigger, others consume any input starting
// with the trigger. The mixed rules are intentional; callers must not assume
// one discipline.
type Command struct {
	Trigger string
	Exact   bool
	Help    string
	Handler HandlerFunc
}

// Dispatcher holds an ordered command table. The first matching command wins.
type Dispatcher struct {
	commands []Command
	log      *zap.Logger
}

// NewDispatcher constructs a dispatcher over the supplied table.
func NewDispatcher(commands []Command) *Dispatcher {
	return &Dispatcher{
		commands: commands,
		log:      logger.WithModule("command"),
	}
}

// Dispatch offers text to the command table and reports whether any command
// consumed it. Unconsumed input falls through to the normal message path,
// including unknown slash-prefixed input.
func (d *Dispatcher) Dispatch(ctx context.Context, gw Gateway, sender Sender, text string) bool {
	for _, cmd := range d.commands {
		args, ok := match(cmd, text)
		if !ok {
			continue
		}

		d.log.Debug("command dispatched",
			zap.String("trigger", cmd.Trigger),
			zap.String("identity_id", sender.ID),
		)
		cmd.Handler(ctx, gw, sender, args)
		return true
	}

	return false
}

// Describe lists the registered triggers and help lines, emitted to a fresh
// connection so clients can discover what the gateway understands.
func (d *Dispatcher) Describe() []Description {
	out := make([]Description, 0, len(d.commands))
	for _, cmd := range d.commands {
		out = append(out, Description{Trigger: cmd.Trigger, Help: cmd.Help})
	}
	return out
}

// Description is the wire form of one command table entry.
type Description struct {
	Trigger string `json:"trigger"`
	Help    string `json:"help,omitempty"`
}

func match(cmd Command, text string) (string, bool) {
	if cmd.Exact {
		if text == cmd.Trigger {
			return "", true
		}
		return "", false
	}

	if text == cmd.Trigger {
		return "", true
	}
	if strings.HasPrefix(text, cmd.Trigger+" ") {
		return strings.TrimSpace(text[len(cmd.Trigger):]), true
	}
	return "", false
}
