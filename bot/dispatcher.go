package bot

import (
	"strings"

	"github.com/pkg/errors"
)

// HandlerFunc is a registered command's implementation. Its return value
// of any type (or nil) is wrapped uniformly by Dispatch: simply the
// interface{} itself, since Go has no separate void/future distinction
// to paper over.
type HandlerFunc func(ctx *Context, args *BoundArgs) (interface{}, error)

// CommandSpec is one command's full registration: its verb, parameter
// schema, optional required permission, and handler.
type CommandSpec struct {
	Verb       string
	Params     []Param
	Permission string
	Handler    HandlerFunc
}

// Dispatcher parses a chat line into a command invocation and routes it to
// a registered handler.
type Dispatcher struct {
	prefix   string
	selfNick func() string
	commands map[string]*CommandSpec
	perms    PermissionManager
}

// NewDispatcher constructs a Dispatcher. selfNick is called on every
// dispatch to get the current self-nick for the "<nick>: " invocation
// form, since it can change over the bot's lifetime (NICK handling).
func NewDispatcher(prefix string, selfNick func() string, perms PermissionManager) *Dispatcher {
	if prefix == "" {
		prefix = "!"
	}
	return &Dispatcher{prefix: prefix, selfNick: selfNick, commands: map[string]*CommandSpec{}, perms: perms}
}

// Register adds spec to the command table, keyed case-insensitively.
func (d *Dispatcher) Register(spec CommandSpec) {
	d.commands[strings.ToLower(spec.Verb)] = &spec
}

// ErrUnknownCommand is returned (with handled=true) when the line matches
// the invocation grammar but names no registered command.
var ErrUnknownCommand = errors.New("unknown command")

// Dispatch parses one chat line: a line is a bot-command invocation iff
// it starts with the configured prefix, or with "<selfnick>: " (trimmed).
// handled is false for any line that matches neither form, in which case
// result and err are always nil/nil and the caller should do nothing
// further.
func (d *Dispatcher) Dispatch(ctx *Context, line string) (handled bool, result interface{}, err error) {
	trimmed := strings.TrimSpace(line)

	var body string
	switch {
	case strings.HasPrefix(trimmed, d.prefix):
		body = trimmed[len(d.prefix):]
	default:
		nick := d.selfNick()
		colonForm := nick + ": "
		if nick != "" && len(trimmed) >= len(colonForm) && strings.EqualFold(trimmed[:len(colonForm)], colonForm) {
			body = trimmed[len(colonForm):]
		} else {
			return false, nil, nil
		}
	}

	fullLine := strings.TrimSpace(body)
	if fullLine == "" {
		return true, nil, ErrUnknownCommand
	}

	sp := strings.IndexByte(fullLine, ' ')
	var verb, rawArgs string
	if sp == -1 {
		verb = fullLine
	} else {
		verb = fullLine[:sp]
		rawArgs = fullLine[sp+1:]
	}

	spec, ok := d.commands[strings.ToLower(verb)]
	if !ok {
		return true, nil, ErrUnknownCommand
	}

	if spec.Permission != "" && !d.perms.HasPermission(ctx.Sender.Account, spec.Permission) {
		return true, nil, &PermissionDeniedError{Command: spec.Verb, Permission: spec.Permission, Account: ctx.Sender.Account}
	}

	bound, bindErr := bind(spec.Params, spec.Verb, rawArgs)
	if bindErr != nil {
		return true, nil, bindErr
	}

	ctx.Command = spec.Verb
	ctx.RawArgs = rawArgs
	ctx.FullLine = fullLine

	result, err = spec.Handler(ctx, bound)
	return true, result, err
}
