// Package engine implements the listener registry and protocol engine:
// the message loop, registration handshake, CAP/SASL
// negotiation, ping liveness, and the incoming-command listener catalog
// that keeps a state.Snapshot current.
package engine

import (
	"crypto/tls"
	"time"

	"github.com/corywalker/ircframe/ratelimit"
)

// ServerAddr is one entry of the configured server list.
type ServerAddr struct {
	Host string
	Port int
	TLS  bool
}

// Options is the engine's recognized configuration surface, minus the bot-
// runtime-only fields (Channels, OperName, ...) which live in package bot.
type Options struct {
	Servers []ServerAddr

	PrimaryNick   string
	SecondaryNick string
	Ident         string
	RealName      string

	ServerPassword string

	AccountName                string
	AccountPassword            string
	AccountCertificateFile     string
	AccountCertificatePassword string
	DisabledSaslMechs          map[string]struct{}
	AbortOnSaslFailure         bool

	ConnectTimeout time.Duration
	ConnectRetries int
	PingInterval   time.Duration
	PingTimeout    time.Duration

	AcceptAllCertificates bool
	TrustedFingerprints   map[string]struct{}
	CheckOnlineRevocation bool
	BindHost              string

	UseCPrivmsg bool

	// CapFilters are consulted in addition to the built-in default CAP set
	//: a CAP advertised by the server is requested if any filter
	// returns true for it.
	CapFilters []CapFilter

	RateLimiter ratelimit.Options

	// ClientCertificate, when set, is offered for TLS and enables SASL
	// EXTERNAL.
	ClientCertificate *tls.Certificate
}

// CapFilter decides whether to request an advertised capability beyond
// the built-in default set.
type CapFilter func(cap string, value string) bool

// defaultCaps is the built-in set requested whenever the server advertises
// them.
var defaultCaps = []string{
	"account-notify", "away-notify", "batch", "cap-notify", "chghost",
	"draft/channel-rename", "draft/multiline", "extended-join",
	"message-ids", "message-tags", "multi-prefix", "server-time",
	"setname", "userhost-in-names",
}

func withDefaults(o *Options) {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 60 * time.Second
	}
	if o.PingTimeout == 0 {
		o.PingTimeout = 30 * time.Second
	}
	if o.SecondaryNick == "" && o.PrimaryNick != "" {
		o.SecondaryNick = o.PrimaryNick + "_"
	}
}
