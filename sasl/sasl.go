// Package sasl implements the client side of SASL mechanism negotiation
// for the IRC engine. It wraps github.com/emersion/go-sasl for PLAIN and
// EXTERNAL, and hand-writes the SCRAM family on top of the same Client
// shape, since go-sasl does not ship a SCRAM client.
package sasl

import (
	"crypto/tls"

	gosasl "github.com/emersion/go-sasl"
)

// Client is the mechanism interface the engine drives: Start produces the
// initial response (possibly nil for mechanisms with none), Next consumes
// each server challenge and produces the next response. It matches
// github.com/emersion/go-sasl's Client interface exactly so PLAIN/EXTERNAL
// need no adapter.
type Client = gosasl.Client

// Mechanism names, in the engine's offering preference. "-PLUS"
// variants require a channel-binding key from the connection.
const (
	MechExternal     = "EXTERNAL"
	MechScramSHA512P = "SCRAM-SHA-512-PLUS"
	MechScramSHA256P = "SCRAM-SHA-256-PLUS"
	MechScramSHA1P   = "SCRAM-SHA-1-PLUS"
	MechScramSHA512  = "SCRAM-SHA-512"
	MechScramSHA256  = "SCRAM-SHA-256"
	MechScramSHA1    = "SCRAM-SHA-1"
	MechPlain        = "PLAIN"
)

// offerOrder is the full, fixed preference order. Selection
// below filters it down to what the session's prerequisites and the
// server's own 908 RPL_SASLMECHS list actually support.
var offerOrder = []string{
	MechExternal,
	MechScramSHA512P, MechScramSHA256P, MechScramSHA1P,
	MechScramSHA512, MechScramSHA256, MechScramSHA1,
	MechPlain,
}

// Options configures which mechanisms a Negotiator is allowed to offer.
type Options struct {
	// HaveClientCertificate enables EXTERNAL.
	HaveClientCertificate bool
	// ChannelBindingKey, if non-nil, is the 32-byte key material from
	// netconn.Conn.ChannelBinding, enabling the -PLUS SCRAM variants.
	ChannelBindingKey []byte
	// GS2ChannelBindingType names the binding type for the SCRAM gs2
	// header, e.g. "tls-exporter" or "tls-server-end-point".
	GS2ChannelBindingType string

	// Identity, Username, Password feed PLAIN/SCRAM.
	Identity string
	Username string
	Password string

	// ClientCertificate feeds EXTERNAL at the TLS layer, not here; EXTERNAL
	// itself sends only the authorization identity.
	ClientCertificate *tls.Certificate

	// Disabled lists mechanism names removed from consideration regardless
	// of prerequisites.
	Disabled map[string]struct{}

	// ServerAnnounced, if non-nil (from a 908 RPL_SASLMECHS or CAP LS
	// sasl=... value), further restricts the offer set to this set.
	ServerAnnounced map[string]struct{}
}

// Negotiator walks the preference order, removing an attempted mechanism
// from the remaining candidates once it has been tried and failed (904/905),
// so the engine can call Next repeatedly until mechanisms are exhausted.
type Negotiator struct {
	opts      Options
	remaining []string
}

// NewNegotiator computes the initial candidate list: built-in
// preference order, intersected with prerequisites and any server-
// announced set, minus disabled mechanisms.
func NewNegotiator(opts Options) *Negotiator {
	n := &Negotiator{opts: opts}
	for _, mech := range offerOrder {
		if !n.eligible(mech) {
			continue
		}
		n.remaining = append(n.remaining, mech)
	}
	return n
}

func (n *Negotiator) eligible(mech string) bool {
	if _, disabled := n.opts.Disabled[mech]; disabled {
		return false
	}
	if n.opts.ServerAnnounced != nil {
		if _, ok := n.opts.ServerAnnounced[mech]; !ok {
			return false
		}
	}
	switch mech {
	case MechExternal:
		return n.opts.HaveClientCertificate
	case MechScramSHA512P, MechScramSHA256P, MechScramSHA1P:
		return len(n.opts.ChannelBindingKey) > 0
	default:
		return true
	}
}

// Remaining reports the mechanisms not yet attempted, in preference order.
func (n *Negotiator) Remaining() []string {
	out := make([]string, len(n.remaining))
	copy(out, n.remaining)
	return out
}

// RestrictTo narrows the remaining candidate set to the intersection with
// allowed, used when a 908 RPL_SASLMECHS arrives mid-negotiation.
func (n *Negotiator) RestrictTo(allowed map[string]struct{}) {
	kept := n.remaining[:0]
	for _, m := range n.remaining {
		if _, ok := allowed[m]; ok {
			kept = append(kept, m)
		}
	}
	n.remaining = kept
}

// Next pops the next mechanism to try and builds its Client, or reports ok
// == false once every candidate has been attempted.
func (n *Negotiator) Next() (mech string, client Client, ok bool) {
	for len(n.remaining) > 0 {
		mech = n.remaining[0]
		n.remaining = n.remaining[1:]
		client, err := n.buildClient(mech)
		if err != nil {
			continue
		}
		return mech, client, true
	}
	return "", nil, false
}

func (n *Negotiator) buildClient(mech string) (Client, error) {
	switch mech {
	case MechExternal:
		return gosasl.NewExternalClient(n.opts.Identity), nil
	case MechPlain:
		return gosasl.NewPlainClient(n.opts.Identity, n.opts.Username, n.opts.Password), nil
	case MechScramSHA512P, MechScramSHA512:
		return newScramClient(scramSHA512, n.opts, mech)
	case MechScramSHA256P, MechScramSHA256:
		return newScramClient(scramSHA256, n.opts, mech)
	case MechScramSHA1P, MechScramSHA1:
		return newScramClient(scramSHA1, n.opts, mech)
	default:
		return nil, errUnknownMechanism(mech)
	}
}

type errUnknownMechanism string

func (e errUnknownMechanism) Error() string { return "unknown SASL mechanism: " + string(e) }
