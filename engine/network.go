package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/corywalker/ircframe/message"
	"github.com/corywalker/ircframe/netconn"
	"github.com/corywalker/ircframe/ratelimit"
	"github.com/corywalker/ircframe/state"
)

// Network owns one connection's entire lifecycle: dial, registration
// handshake, the single-threaded cooperative message loop, and the state
// store it keeps current.
type Network struct {
	opts   Options
	logger *zap.SugaredLogger

	conn *netconn.Conn

	snapshot atomic.Pointer[state.Snapshot]
	stateMu  sync.Mutex // serializes UpdateState's read-modify-write

	registry *Registry
	events   *eventBus
	chain    *ratelimit.Chain

	sendMu sync.Mutex // single writer

	rootCtx    context.Context
	rootCancel context.CancelFunc
	done       chan struct{}
	doneOnce   sync.Once
	dropErr    error // written before done closes, read after

	handshake *handshakeState
}

// New constructs a Network from opts, registering the built-in catalog
// of incoming-command listeners ahead of any caller-supplied ones, so
// built-ins observe every command first.
func New(opts Options, logger *zap.SugaredLogger) *Network {
	withDefaults(&opts)
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	n := &Network{
		opts:     opts,
		logger:   logger,
		registry: &Registry{},
		events:   newEventBus(),
		chain:    ratelimit.BuildChain(opts.RateLimiter),
		done:     make(chan struct{}),
	}
	empty := state.Empty()
	n.snapshot.Store(&empty)
	registerBuiltinListeners(n.registry)
	return n
}

// RegisterListener adds a user-level listener behind the built-ins.
func (n *Network) RegisterListener(verbs []string, fn ListenerFunc) {
	n.registry.Register(verbs, fn)
}

// State returns the current published snapshot.
func (n *Network) State() state.Snapshot {
	return *n.snapshot.Load()
}

// UpdateState applies fn to a clone of the current snapshot and publishes
// the result, serialized against concurrent updates so read-modify-write
// listeners never race each other. fn receives a Clone, so it may write
// to the snapshot's maps directly without readers of the previously
// published snapshot observing the mutation.
func (n *Network) UpdateState(fn func(state.Snapshot) (state.Snapshot, error)) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	cur := n.State().Clone()
	next, err := fn(cur)
	if err != nil {
		return err
	}
	n.snapshot.Store(&next)
	return nil
}

// Logger exposes the network's structured logger for listeners that want
// to record something beyond what dispatch already logs.
func (n *Network) Logger() *zap.SugaredLogger { return n.logger }

// AwaitCommand blocks until match reports true for some inbound command,
// the network tears down, or ctx is done, whichever happens first. This is
// the building block bot-level correlated awaits (JOIN/PART) are built on.
func (n *Network) AwaitCommand(ctx context.Context, match func(*message.Command) bool) (*message.Command, error) {
	return n.events.awaitCommand(ctx, n.Done(), match)
}

// WatchCommand registers match right away and returns a wait function, so
// callers correlating a reply with a command they are about to send can
// subscribe first and never miss a fast answer. The returned function
// blocks like AwaitCommand and must be called at most once.
func (n *Network) WatchCommand(match func(*message.Command) bool) func(ctx context.Context) (*message.Command, error) {
	wait := n.events.watch(match)
	return func(ctx context.Context) (*message.Command, error) {
		return wait(ctx, n.Done())
	}
}

// Done is closed once the network has fully torn down.
func (n *Network) Done() <-chan struct{} { return n.done }

// Err reports why the network tore down, valid once Done is closed: a
// *Dropped carrying the triggering error for connection loss or ping
// timeout, nil for a deliberate Disconnect.
func (n *Network) Err() error { return n.dropErr }

// Connect dials the configured server list in order, moving to the next
// server on timeout or bounce and retrying each up to
// opts.ConnectRetries times, then runs the registration handshake to
// completion (through CAP END / 001 Welcome) before returning. The
// message loop keeps running in the background after Connect returns;
// wait on Done to block.
func (n *Network) Connect(ctx context.Context) error {
	n.rootCtx, n.rootCancel = context.WithCancel(context.Background())

	// Fresh lifecycle per dial: a Network that disconnected can be
	// connected again (bot.Supervise), so the done latch and the state
	// snapshot both reset here, matching the loop's state-reset signal
	// during reconnect.
	n.done = make(chan struct{})
	n.doneOnce = sync.Once{}
	n.dropErr = nil
	empty := state.Empty()
	n.snapshot.Store(&empty)

	if n.opts.ClientCertificate == nil && n.opts.AccountCertificateFile != "" {
		cert, err := loadClientCertificate(n.opts.AccountCertificateFile, n.opts.AccountCertificatePassword)
		if err != nil {
			return errors.Wrap(err, "loading account certificate")
		}
		n.opts.ClientCertificate = cert
	}

	var lastErr error
	for _, srv := range n.opts.Servers {
		for attempt := 0; attempt <= n.opts.ConnectRetries; attempt++ {
			dialCtx, cancel := context.WithTimeout(ctx, n.opts.ConnectTimeout)
			conn, err := netconn.Dial(dialCtx, dialConfig(n.opts, srv))
			cancel()
			if err != nil {
				lastErr = err
				n.logger.Warnw("connect attempt failed", "host", srv.Host, "port", srv.Port, "attempt", attempt, "error", err)
				continue
			}
			n.conn = conn
			if err := n.register(ctx); err != nil {
				lastErr = err
				_ = n.conn.Disconnect()
				n.conn = nil
				continue
			}
			go n.loop()
			return nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no servers configured")
	}
	return errors.Wrap(lastErr, "connect: exhausted server list")
}

func dialConfig(o Options, srv ServerAddr) netconn.Config {
	cfg := netconn.Config{
		Host:                  srv.Host,
		Port:                  srv.Port,
		TLS:                   srv.TLS || srv.Port == 6697 || srv.Port == 9999,
		TrustedFingerprints:   o.TrustedFingerprints,
		CheckOnlineRevocation: o.CheckOnlineRevocation,
		ClientCertificate:     o.ClientCertificate,
		BindHost:              o.BindHost,
	}
	switch {
	case o.AcceptAllCertificates:
		cfg.VerifyMode = netconn.VerifyNone
	case len(o.TrustedFingerprints) > 0:
		cfg.VerifyMode = netconn.VerifyFingerprint
	default:
		cfg.VerifyMode = netconn.VerifyFull
	}
	return cfg
}

// rawSend writes a command directly to the socket, bypassing the rate
// limit chain. Used for the registration handshake, PING/PONG liveness
// traffic and QUIT, which happen before or outside ordinary command
// traffic.
func (n *Network) rawSend(cmd *message.Command) error {
	line, err := message.Serialize(cmd)
	if err != nil {
		return errors.Wrap(err, "serialize")
	}
	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	n.logger.Debugw("send", "line", line)
	return n.conn.Send([]byte(line))
}

// Send submits cmd through the rate-limit chain before writing it, in
// the order Send was called. Cancelling ctx before all stages grant
// releases whatever was already acquired.
func (n *Network) Send(ctx context.Context, cmd *message.Command) error {
	line, err := message.Serialize(cmd)
	if err != nil {
		return errors.Wrap(err, "serialize")
	}
	// len(line)-2 excludes the CRLF Serialize already appended; the
	// global-bytes partition adds its own +2 back.
	lease, err := n.chain.Acquire(ctx, cmd.Verb, cmd.Args, len(line)-2)
	if err != nil {
		return err
	}

	n.sendMu.Lock()
	sendErr := n.conn.Send([]byte(line))
	n.sendMu.Unlock()

	if sendErr != nil {
		lease.Release()
		return sendErr
	}
	n.logger.Debugw("send", "line", line)
	return nil
}

// Disconnect sends QUIT best-effort, cancels the root cancellation token
// (every in-flight await observes this), closes the connection, and marks
// the network done. This path cannot itself be cancelled.
func (n *Network) Disconnect(reason string) {
	if n.conn != nil {
		_ = n.rawSend(message.New("QUIT", reason))
	}
	if n.rootCancel != nil {
		n.rootCancel()
	}
	if n.conn != nil {
		_ = n.conn.Disconnect()
	}
	n.doneOnce.Do(func() { close(n.done) })
}

// loop is the single-threaded cooperative message loop: it reads
// lines, parses, dispatches to listeners and the event bus, and
// interleaves ping send/timeout timers, all on this one goroutine so
// there is no intra-network parallelism to reason about.
func (n *Network) loop() {
	pingTicker := time.NewTicker(n.opts.PingInterval)
	defer pingTicker.Stop()
	var pingTimeout *time.Timer
	var pendingCookie string

	lines := make(chan string)
	readErrs := make(chan error, 1)
	go func() {
		for {
			line, err := n.conn.ReceiveLine()
			if err != nil {
				readErrs <- err
				return
			}
			lines <- line
		}
	}()

	for {
		var timeoutCh <-chan time.Time
		if pingTimeout != nil {
			timeoutCh = pingTimeout.C
		}

		select {
		case line := <-lines:
			cmd, err := message.Parse(line)
			if err != nil {
				n.logger.Warnw("dropping malformed line", "line", line, "error", err)
				continue
			}
			if cmd.Verb == "PONG" && pendingCookie != "" {
				for _, a := range cmd.Args {
					if a == pendingCookie {
						if pingTimeout != nil {
							pingTimeout.Stop()
							pingTimeout = nil
						}
						pendingCookie = ""
						break
					}
				}
			}
			n.handleInbound(cmd)

		case err := <-readErrs:
			n.logger.Warnw("connection dropped", "error", err)
			n.dropErr = &Dropped{Cause: err}
			n.Disconnect("")
			return

		case <-pingTicker.C:
			pendingCookie = newPingCookie()
			if err := n.rawSend(message.New("PING", pendingCookie)); err != nil {
				n.logger.Warnw("ping send failed", "error", err)
				n.dropErr = &Dropped{Cause: err}
				n.Disconnect("")
				return
			}
			pingTimeout = time.NewTimer(n.opts.PingTimeout)

		case <-timeoutCh:
			n.logger.Warnw("ping timeout, disconnecting")
			n.dropErr = &Dropped{Cause: errors.New("ping timeout")}
			n.Disconnect("ping timeout")
			return

		case <-n.rootCtx.Done():
			return
		}
	}
}

// handleInbound runs cmd through the listener registry, then the event
// bus for any correlated awaits: listeners first, then subscribers.
func (n *Network) handleInbound(cmd *message.Command) {
	snap := n.State()
	loggedErrs, fatal := n.registry.dispatch(n, snap, cmd)
	for _, e := range loggedErrs {
		n.logger.Warnw("listener error", "verb", cmd.Verb, "error", e)
	}
	if fatal != nil {
		n.logger.Errorw("corrupted network state, disconnecting", "error", fatal)
		n.Disconnect("")
		return
	}
	n.events.publish(cmd)
}

func newPingCookie() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "NWPC" + hex.EncodeToString(buf)
}
