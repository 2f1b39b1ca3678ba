package kernel

import (
	"fmt"
	"strings"
	"time"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// CommandKind is an operator instruction.
type CommandKind string

const (
	CommandPause    CommandKind = "pause"
	CommandResume   CommandKind = "resume"
	CommandInject   CommandKind = "inject"
	CommandShutdown CommandKind = "shutdown"
	CommandStatus   CommandKind = "status"
	// CommandRevokeSignOff is issued internally when a milestone is rejected.
	CommandRevokeSignOff CommandKind = "revoke_signoff"
)

// ParseCommandKind converts a string into an operator CommandKind.
func ParseCommandKind(s string) (CommandKind, error) {
	switch k := CommandKind(strings.ToLower(strings.TrimSpace(s))); k {
	case CommandPause, CommandResume, CommandInject, CommandShutdown, CommandStatus:
		return k, nil
	}
	return "", fmt.Errorf("unknown command %q", s)
}

// Command is queued through Orchestrator.SendCommand and applied between
// loop iterations. An empty Target applies to every role.
type Command struct {
	Kind     CommandKind   `json:"kind"`
	Target   envelope.Role `json:"target,omitempty"`
	Text     string        `json:"text,omitempty"`
	IssuedAt time.Time     `json:"issued_at"`
}

// Validate checks the command is well formed for registry.
func (c Command) Validate(registry *envelope.Registry) error {
	switch c.Kind {
	case CommandPause, CommandResume, CommandShutdown, CommandStatus:
	case CommandInject, CommandRevokeSignOff:
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%s command requires text", c.Kind)
		}
	default:
		return fmt.Errorf("unknown command %q", c.Kind)
	}
	if c.Target != "" && !registry.Contains(c.Target) {
		return fmt.Errorf("command target %q is not part of this run", c.Target)
	}
	return nil
}

// IsGlobal reports whether the command applies to all roles.
func (c Command) IsGlobal() bool {
	return c.Target == ""
}

// Pause builds a pause command. No role pauses everyone.
func Pause(role ...envelope.Role) Command {
	return Command{Kind: CommandPause, Target: first(role)}
}

// Resume builds a resume command.
func Resume(role ...envelope.Role) Command {
	return Command{Kind: CommandResume, Target: first(role)}
}

// Inject builds a guidance command.
func Inject(text string, role ...envelope.Role) Command {
	return Command{Kind: CommandInject, Target: first(role), Text: text}
}

// Shutdown builds a shutdown command.
func Shutdown(role ...envelope.Role) Command {
	return Command{Kind: CommandShutdown, Target: first(role)}
}

func first(roles []envelope.Role) envelope.Role {
	if len(roles) == 0 {
		return ""
	}
	return roles[0]
}
