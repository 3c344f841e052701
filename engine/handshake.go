package engine

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"

	"github.com/corywalker/ircframe/message"
	"github.com/corywalker/ircframe/netconn"
	"github.com/corywalker/ircframe/sasl"
	"github.com/corywalker/ircframe/state"
)

// handshakeState carries the registration handshake's working state across
// the lines read in register's loop: CAP LS accumulation, outstanding CAP
// REQ batches awaiting ACK/NAK, and the in-progress SASL exchange, if any
// (the Connecting -> CapLS -> CapReq* -> [Sasl] -> NickUser -> Welcomed
// -> Operational registration state machine).
type handshakeState struct {
	nick          string
	usedSecondary bool

	capLSDone  bool
	capPending map[string]struct{}
	capEndSent bool

	negotiator  *sasl.Negotiator
	saslClient  sasl.Client
	saslBuf     []byte
	saslActive  bool
	saslDone    bool
}

// register runs the full registration handshake synchronously on the
// calling goroutine: it is complete (CAP END sent, 001 received) or failed
// by the time it returns, before Connect hands the connection off to the
// cooperative message loop.
func (n *Network) register(ctx context.Context) error {
	hs := &handshakeState{
		nick:       n.opts.PrimaryNick,
		capPending: map[string]struct{}{},
	}
	n.handshake = hs

	if err := n.rawSend(message.New("CAP", "LS", "302")); err != nil {
		return errors.Wrap(err, "registration")
	}
	if n.opts.ServerPassword != "" {
		if err := n.rawSend(message.New("PASS", n.opts.ServerPassword)); err != nil {
			return errors.Wrap(err, "registration")
		}
	}
	if err := n.rawSend(message.New("NICK", hs.nick)); err != nil {
		return errors.Wrap(err, "registration")
	}
	ident := n.opts.Ident
	if ident == "" {
		ident = hs.nick
	}
	realName := n.opts.RealName
	if realName == "" {
		realName = hs.nick
	}
	if err := n.rawSend(message.New("USER", ident, "0", "*", realName)); err != nil {
		return errors.Wrap(err, "registration")
	}

	for {
		line, err := n.readRegistrationLine(ctx)
		if err != nil {
			return errors.Wrap(err, "registration")
		}
		cmd, err := message.Parse(line)
		if err != nil {
			n.logger.Warnw("dropping malformed line during registration", "line", line, "error", err)
			continue
		}
		n.handleInbound(cmd)

		done, err := n.handshakeStep(hs, cmd)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// readRegistrationLine reads one line off the socket, honoring ctx
// cancellation even though netconn.Conn.ReceiveLine itself has no context
// parameter.
func (n *Network) readRegistrationLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := n.conn.ReceiveLine()
		ch <- result{line, err}
	}()
	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (n *Network) handshakeStep(hs *handshakeState, cmd *message.Command) (done bool, err error) {
	switch cmd.Verb {
	case "CAP":
		return n.handshakeCap(hs, cmd)
	case "AUTHENTICATE":
		return false, n.handshakeAuthenticate(hs, cmd)
	case "903", "907":
		hs.saslActive = false
		hs.saslDone = true
		return n.maybeSendCapEnd(hs), nil
	case "904", "905":
		return false, n.handshakeSaslFailed(hs)
	case "902", "906":
		if n.opts.AbortOnSaslFailure {
			return true, &SaslFailure{Reason: cmd.Verb}
		}
		hs.saslActive = false
		hs.saslDone = true
		delete(hs.capPending, "sasl")
		return n.maybeSendCapEnd(hs), nil
	case "908":
		if hs.negotiator != nil && len(cmd.Args) >= 2 {
			announced := map[string]struct{}{}
			for _, m := range strings.Split(cmd.Arg(1), ",") {
				announced[m] = struct{}{}
			}
			hs.negotiator.RestrictTo(announced)
		}
		return false, nil
	case "432", "433":
		if !hs.usedSecondary && n.opts.SecondaryNick != "" {
			hs.usedSecondary = true
			hs.nick = n.opts.SecondaryNick
			return false, n.rawSend(message.New("NICK", hs.nick))
		}
		return true, &RegistrationFailure{Reason: "both nicks rejected: " + strings.Join(cmd.Args, " ")}
	case "464":
		return true, &RegistrationFailure{Reason: "server password rejected"}
	case "ERROR":
		return true, &RegistrationFailure{Reason: strings.Join(cmd.Args, " ")}
	case "001":
		return true, n.handshakeWelcome(hs, cmd)
	}
	return false, nil
}

func (n *Network) handshakeWelcome(hs *handshakeState, cmd *message.Command) error {
	selfNick := cmd.Arg(0)
	if selfNick == "" {
		selfNick = hs.nick
	}
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		id := state.NewUserID()
		s.Self = id
		rec := state.User{
			ID:       id,
			Nick:     selfNick,
			Ident:    n.opts.Ident,
			RealName: n.opts.RealName,
			Modes:    map[byte]struct{}{},
			Channels: map[state.ChannelID]string{},
		}
		return s.UpsertUser(rec)
	})
}

// handshakeCap implements LS accumulation/batched REQ, and ACK/NAK
// bookkeeping.
func (n *Network) handshakeCap(hs *handshakeState, cmd *message.Command) (done bool, err error) {
	if len(cmd.Args) < 2 {
		return false, nil
	}
	sub := strings.ToUpper(cmd.Arg(1))
	switch sub {
	case "LS":
		more := len(cmd.Args) >= 4 && cmd.Arg(2) == "*"
		capsText := cmd.Arg(len(cmd.Args) - 1)
		if err := n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
			for _, tok := range strings.Fields(capsText) {
				name, value := splitCapToken(tok)
				v := value
				s.SupportedCaps[name] = &v
			}
			return s, nil
		}); err != nil {
			return false, err
		}
		if more {
			return false, nil
		}
		hs.capLSDone = true
		return false, n.sendCapRequests(hs)
	case "ACK":
		names := strings.Fields(cmd.Arg(len(cmd.Args) - 1))
		for _, name := range names {
			name = strings.TrimPrefix(name, "-")
			delete(hs.capPending, name)
		}
		if err := n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
			for _, name := range names {
				name = strings.TrimPrefix(name, "-")
				s.EnabledCaps[name] = s.SupportedCaps[name]
			}
			return s, nil
		}); err != nil {
			return false, err
		}
		for _, name := range names {
			if strings.TrimPrefix(name, "-") == "sasl" {
				if err := n.beginSasl(hs); err != nil {
					return false, err
				}
			}
		}
		return n.maybeSendCapEnd(hs), nil
	case "NAK":
		names := strings.Fields(cmd.Arg(len(cmd.Args) - 1))
		for _, name := range names {
			delete(hs.capPending, name)
			if name == "sasl" && n.opts.AbortOnSaslFailure {
				return true, &SaslFailure{Reason: "server refused sasl capability"}
			}
		}
		return n.maybeSendCapEnd(hs), nil
	}
	return false, nil
}

func splitCapToken(tok string) (name, value string) {
	if i := strings.IndexByte(tok, '='); i != -1 {
		return tok[:i], tok[i+1:]
	}
	return tok, ""
}

// sendCapRequests picks the default set plus anything a CapFilter accepts,
// batches REQ lines to stay within a conservative per-line budget (434
// bytes minus the nick, assuming the worst-case ACK overhead), and sends
// them; if nothing is requested it proceeds straight to
// CAP END.
func (n *Network) sendCapRequests(hs *handshakeState) error {
	snap := n.State()
	var requested []string
	wantSasl := n.opts.AccountName != "" || n.opts.ClientCertificate != nil
	for name := range snap.SupportedCaps {
		if name == "sasl" {
			continue
		}
		want := false
		for _, want1 := range defaultCaps {
			if want1 == name {
				want = true
				break
			}
		}
		if !want {
			for _, f := range n.opts.CapFilters {
				if f(name, derefCapValue(snap.SupportedCaps[name])) {
					want = true
					break
				}
			}
		}
		if want {
			requested = append(requested, name)
		}
	}
	if wantSasl {
		if _, ok := snap.SupportedCaps["sasl"]; ok {
			requested = append(requested, "sasl")
		}
	}

	if len(requested) == 0 {
		return n.sendCapEnd(hs)
	}

	budget := 434 - len(hs.nick)
	if budget < 60 {
		budget = 60
	}
	var batch []string
	batchLen := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		for _, c := range batch {
			hs.capPending[c] = struct{}{}
		}
		err := n.rawSend(message.New("CAP", "REQ", strings.Join(batch, " ")))
		batch = nil
		batchLen = 0
		return err
	}
	for _, c := range requested {
		addLen := len(c) + 1
		if batchLen+addLen > budget && len(batch) > 0 {
			if err := flush(); err != nil {
				return err
			}
		}
		batch = append(batch, c)
		batchLen += addLen
	}
	return flush()
}

func derefCapValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func (n *Network) maybeSendCapEnd(hs *handshakeState) bool {
	if !hs.capLSDone || hs.capEndSent {
		return false
	}
	if len(hs.capPending) > 0 {
		return false
	}
	if hs.saslActive {
		return false
	}
	if err := n.sendCapEnd(hs); err != nil {
		n.logger.Warnw("failed sending CAP END", "error", err)
	}
	return false
}

func (n *Network) sendCapEnd(hs *handshakeState) error {
	if hs.capEndSent {
		return nil
	}
	hs.capEndSent = true
	return n.rawSend(message.New("CAP", "END"))
}

// beginSasl constructs the mechanism negotiator from the engine's options
// and the connection's channel-binding material (if any), then starts the
// first attempt.
func (n *Network) beginSasl(hs *handshakeState) error {
	var cbKey []byte
	var gs2Type string
	if km, ok := n.conn.ChannelBinding(netconn.BindingUnique); ok {
		cbKey = km
		gs2Type = "tls-exporter"
	}

	hs.negotiator = sasl.NewNegotiator(sasl.Options{
		HaveClientCertificate: n.opts.ClientCertificate != nil,
		ChannelBindingKey:     cbKey,
		GS2ChannelBindingType: gs2Type,
		Identity:              n.opts.AccountName,
		Username:              n.opts.AccountName,
		Password:              n.opts.AccountPassword,
		ClientCertificate:     n.opts.ClientCertificate,
		Disabled:              n.opts.DisabledSaslMechs,
	})
	return n.attemptNextSasl(hs)
}

func (n *Network) attemptNextSasl(hs *handshakeState) error {
	mech, client, ok := hs.negotiator.Next()
	if !ok {
		hs.saslActive = false
		hs.saslDone = true
		delete(hs.capPending, "sasl")
		if n.opts.AbortOnSaslFailure {
			return &SaslFailure{Reason: "no SASL mechanism succeeded"}
		}
		return nil
	}
	hs.saslClient = client
	hs.saslActive = true
	if err := n.rawSend(message.New("AUTHENTICATE", mech)); err != nil {
		return err
	}
	_, ir, err := client.Start()
	if err != nil {
		return n.handshakeSaslFailed(hs)
	}
	if ir != nil {
		return sendSaslChunks(n, ir)
	}
	return nil
}

func (n *Network) handshakeSaslFailed(hs *handshakeState) error {
	return n.attemptNextSasl(hs)
}

func (n *Network) handshakeAuthenticate(hs *handshakeState, cmd *message.Command) error {
	seg := cmd.Arg(0)
	if seg != "+" {
		decoded, err := base64.StdEncoding.DecodeString(seg)
		if err != nil {
			return n.handshakeSaslFailed(hs)
		}
		hs.saslBuf = append(hs.saslBuf, decoded...)
	}
	if len(hs.saslBuf) > 64*1024 {
		hs.saslBuf = nil
		return n.handshakeSaslFailed(hs)
	}
	if len(seg) == 400 {
		return nil // more chunks to come
	}
	challenge := hs.saslBuf
	hs.saslBuf = nil
	resp, err := hs.saslClient.Next(challenge)
	if err != nil {
		return n.handshakeSaslFailed(hs)
	}
	if resp == nil {
		// e.g. SCRAM's server-final verification: nothing more to send,
		// the server concludes with a 903/904 numeric.
		return nil
	}
	return sendSaslChunks(n, resp)
}

// sendSaslChunks base64-encodes data and splits it into 400-character
// AUTHENTICATE lines (300 raw bytes each), sending a trailing empty
// "AUTHENTICATE +" when the data length is an exact multiple of the chunk
// size so the server can disambiguate "more data coming" from "done"
// (IRCv3 SASL chunking rules).
func sendSaslChunks(n *Network, data []byte) error {
	if len(data) == 0 {
		return n.rawSend(message.New("AUTHENTICATE", "+"))
	}
	for i := 0; i < len(data); i += 300 {
		end := i + 300
		if end > len(data) {
			end = len(data)
		}
		chunk := base64.StdEncoding.EncodeToString(data[i:end])
		if err := n.rawSend(message.New("AUTHENTICATE", chunk)); err != nil {
			return err
		}
	}
	if len(data)%300 == 0 {
		return n.rawSend(message.New("AUTHENTICATE", "+"))
	}
	return nil
}
