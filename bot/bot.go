// Package bot implements the command dispatcher and bot runtime:
// startup sequencing (connect, oper, join), PRIVMSG command dispatch, and
// the outbound SendMessage/SendNotice helpers built on the engine and the
// line splitter.
package bot

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/corywalker/ircframe/engine"
	"github.com/corywalker/ircframe/linebreak"
	"github.com/corywalker/ircframe/message"
	"github.com/corywalker/ircframe/state"
)

// Bot owns one engine.Network plus the dispatcher and startup sequence
// layered on top of it.
type Bot struct {
	opts       Options
	logger     *zap.SugaredLogger
	net        *engine.Network
	dispatcher *Dispatcher

	initialized atomic.Bool
}

// New constructs a Bot and wires its PRIVMSG listener ahead of any
// caller-registered commands.
func New(opts Options, logger *zap.SugaredLogger) *Bot {
	withBotDefaults(&opts)
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	perms := NewMapPermissionManager(opts.Permissions)

	b := &Bot{opts: opts, logger: logger}
	b.net = engine.New(opts.Engine, logger)
	b.dispatcher = NewDispatcher(opts.CommandPrefix, b.selfNick, perms)
	b.net.RegisterListener([]string{"PRIVMSG"}, b.handlePrivmsg)
	return b
}

// Network exposes the underlying engine, for callers that want to
// register additional low-level listeners or send raw commands.
func (b *Bot) Network() *engine.Network { return b.net }

// RegisterCommand adds spec to the bot's command table.
func (b *Bot) RegisterCommand(spec CommandSpec) { b.dispatcher.Register(spec) }

func (b *Bot) selfNick() string {
	self, ok := b.net.State().SelfUser()
	if !ok {
		return ""
	}
	return self.Nick
}

// Run executes the full startup sequence and then blocks until the
// network disconnects: connect, oper (CHALLENGE preferred over OPER when
// both are configured and usable), services-oper, join configured
// channels, mark initialized, wait for disconnect.
func (b *Bot) Run(ctx context.Context) error {
	b.initialized.Store(false)
	if err := b.net.Connect(ctx); err != nil {
		return errors.Wrap(err, "connect")
	}

	if err := b.operStep(ctx); err != nil {
		b.logger.Warnw("oper step failed, continuing unprivileged", "error", err)
	}

	if b.opts.ServiceOperPassword != "" {
		if err := b.serviceOper(ctx); err != nil {
			b.logger.Warnw("service-oper step failed", "error", err)
		}
	}

	for _, entry := range b.opts.Channels {
		name, key := splitChannelEntry(entry)
		if name == "" {
			continue
		}
		joinCtx, cancel := context.WithTimeout(ctx, b.opts.JoinTimeout)
		err := b.JoinChannel(joinCtx, name, key)
		cancel()
		if err != nil {
			b.logger.Warnw("initial join failed, proceeding", "channel", name, "error", err)
		}
	}

	b.initialized.Store(true)
	<-b.net.Done()
	return nil
}

// operStep picks the oper mechanism: CHALLENGE when OperName and a readable
// ChallengeKeyFile are both configured, else OPER when OperPassword is
// set, else a warn-and-skip no-op.
func (b *Bot) operStep(ctx context.Context) error {
	if b.opts.OperName == "" {
		return nil
	}
	if b.opts.ChallengeKeyFile != "" {
		key, err := loadChallengeKey(b.opts.ChallengeKeyFile, b.opts.ChallengeKeyPassword)
		if err != nil {
			b.logger.Warnw("could not load challenge key, falling back to OPER", "error", err)
		} else {
			return b.net.Challenge(ctx, b.opts.OperName, key)
		}
	}
	if b.opts.OperPassword != "" {
		return b.net.Oper(ctx, b.opts.OperName, b.opts.OperPassword)
	}
	b.logger.Warnw("OperName set but neither a usable ChallengeKeyFile nor OperPassword is configured; skipping oper")
	return nil
}

// serviceOper sends the configured raw command with its "{password}"
// placeholder interpolated, and waits a fixed 5s (this exchange has no
// standard correlated reply to await).
func (b *Bot) serviceOper(ctx context.Context) error {
	raw := strings.ReplaceAll(b.opts.ServiceOperCommand, "{password}", b.opts.ServiceOperPassword)
	cmd, err := message.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "parsing ServiceOperCommand")
	}
	cmd.Direction = message.ClientOut
	if err := b.net.Send(ctx, cmd); err != nil {
		return err
	}
	select {
	case <-time.After(5 * time.Second):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func splitChannelEntry(entry string) (name, key string) {
	fields := strings.Fields(entry)
	if len(fields) == 0 {
		return "", ""
	}
	name = fields[0]
	if len(fields) > 1 {
		key = fields[1]
	}
	return name, key
}

// JoinChannel sends JOIN name [key] and awaits the matching self-JOIN echo
// or a terminal failure numeric:
// 403/405/471/473/474/475 name the channel as the 2nd arg, 476 as the 1st.
func (b *Bot) JoinChannel(ctx context.Context, name, key string) error {
	args := []string{name}
	if key != "" {
		args = append(args, key)
	}
	wait := b.net.WatchCommand(func(c *message.Command) bool {
		switch c.Verb {
		case "JOIN":
			return strings.EqualFold(c.SourceNick(), b.selfNick()) && strings.EqualFold(c.Arg(0), name)
		case "403", "405", "471", "473", "474", "475":
			return strings.EqualFold(c.Arg(1), name)
		case "476":
			return strings.EqualFold(c.Arg(0), name)
		}
		return false
	})
	if err := b.net.Send(ctx, message.New("JOIN", args...)); err != nil {
		return err
	}
	cmd, err := wait(ctx)
	if err != nil {
		return err
	}
	if cmd.Verb == "JOIN" {
		return nil
	}
	return &engine.NumericError{Numeric: cmd.Verb, Detail: cmd.Arg(len(cmd.Args) - 1)}
}

// PartChannel sends PART name and awaits the matching self-PART echo or a
// 403/442 failure.
func (b *Bot) PartChannel(ctx context.Context, name, reason string) error {
	args := []string{name}
	if reason != "" {
		args = append(args, reason)
	}
	wait := b.net.WatchCommand(func(c *message.Command) bool {
		switch c.Verb {
		case "PART":
			return strings.EqualFold(c.SourceNick(), b.selfNick()) && strings.EqualFold(c.Arg(0), name)
		case "403", "442":
			return strings.EqualFold(c.Arg(1), name)
		}
		return false
	})
	if err := b.net.Send(ctx, message.New("PART", args...)); err != nil {
		return err
	}
	cmd, err := wait(ctx)
	if err != nil {
		return err
	}
	if cmd.Verb == "PART" {
		return nil
	}
	return &engine.NumericError{Numeric: cmd.Verb, Detail: cmd.Arg(len(cmd.Args) - 1)}
}

// SendMessage splits text into UTF-8-bounded lines and sends each as
// its own PRIVMSG through the rate-limit chain.
func (b *Bot) SendMessage(ctx context.Context, target, text string, tags map[string]message.TagValue) error {
	return b.sendSplit(ctx, "PRIVMSG", target, text, tags)
}

// SendNotice is SendMessage's NOTICE counterpart.
func (b *Bot) SendNotice(ctx context.Context, target, text string, tags map[string]message.TagValue) error {
	return b.sendSplit(ctx, "NOTICE", target, text, tags)
}

func (b *Bot) sendSplit(ctx context.Context, verb, target, text string, tags map[string]message.TagValue) error {
	args := []string{target}
	if b.opts.Engine.UseCPrivmsg {
		if cVerb, cArgs, ok := b.cprivmsgForm(verb, target); ok {
			verb, args = cVerb, cArgs
		}
	}

	// Overhead of "<verb> <args...> :" plus the trailing CRLF. We don't
	// know our own hostmask as the server will render it, so the budget
	// covers only the line as we send it; the ":<ourhostmask> " prefix a
	// server adds when relaying is not counted.
	overhead := len(verb) + len(" :") + 2
	for _, a := range args {
		overhead += len(a) + 1
	}
	maxBytes := message.MaxLineBytes - overhead
	if maxBytes < 1 {
		maxBytes = 1
	}
	lines := linebreak.Split(text, maxBytes)
	for _, line := range lines {
		cmd := message.New(verb, append(append([]string{}, args...), line)...)
		for k, v := range tags {
			cmd = cmd.WithTag(k, v)
		}
		if err := b.net.Send(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// cprivmsgForm reports the CPRIVMSG/CNOTICE form of verb/target, the
// Undernet-originated extension that lets an op message a user in one
// of their shared channels without counting against that user's
// flood-control limit. Only applies to PRIVMSG/NOTICE aimed at a nick (not
// a channel); falls back to ok=false for anything else, including when no
// shared channel has self opped.
func (b *Bot) cprivmsgForm(verb, target string) (outVerb string, args []string, ok bool) {
	var cVerb string
	switch verb {
	case "PRIVMSG":
		cVerb = "CPRIVMSG"
	case "NOTICE":
		cVerb = "CNOTICE"
	default:
		return "", nil, false
	}

	snap := b.net.State()
	if snap.IsChannelName(target) {
		return "", nil, false
	}
	self, ok := snap.SelfUser()
	if !ok {
		return "", nil, false
	}
	targetUser, ok := snap.UserByNick(target)
	if !ok {
		return "", nil, false
	}
	for cid, selfPrefix := range self.Channels {
		if selfPrefix == "" {
			continue
		}
		if !strings.ContainsAny(selfPrefix, "@") {
			continue // CPRIVMSG/CNOTICE require op status, not just voice
		}
		if _, shared := targetUser.Channels[cid]; !shared {
			continue
		}
		ch, ok := snap.ChannelByID(cid)
		if !ok {
			continue
		}
		return cVerb, []string{target, ch.Name}, true
	}
	return "", nil, false
}

// handlePrivmsg feeds inbound PRIVMSG lines to the dispatcher once startup
// has finished.
func (b *Bot) handlePrivmsg(n *engine.Network, snap state.Snapshot, cmd *message.Command) error {
	if !b.initialized.Load() {
		return nil
	}
	if len(cmd.Args) < 2 {
		return nil
	}
	target, text := cmd.Arg(0), cmd.Arg(1)
	sender, _ := snap.TryExtractUserFromSource(cmd.Source)
	self, _ := snap.SelfUser()

	replyTarget := target
	if strings.EqualFold(target, self.Nick) {
		replyTarget = sender.Nick
	}

	ctx := &Context{Bot: b, Sender: sender, ReplyTarget: replyTarget}
	handled, result, err := b.dispatcher.Dispatch(ctx, text)
	if !handled {
		return nil
	}

	switch e := err.(type) {
	case nil:
	case *PermissionDeniedError:
		b.logger.Infow("permission denied", "command", e.Command, "account", e.Account)
		return nil
	case *ValidationError:
		_ = b.SendNotice(context.Background(), replyTarget, e.Error(), nil)
		return nil
	default:
		b.logger.Warnw("command handler error", "command", cmd.Arg(1), "error", err)
		return nil
	}

	if s, ok := result.(string); ok && s != "" {
		_ = b.SendMessage(context.Background(), replyTarget, s, nil)
	}
	return nil
}
