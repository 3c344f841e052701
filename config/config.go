// Package config loads the bot's full configuration surface from YAML:
// servers, identities, SASL, TLS, timers, channels, oper credentials,
// permissions, and the rate-limiter shapes. Validation is its own pass
// after unmarshal: walk the result for required fields and reject
// blank/missing ones with a descriptive error, instead of leaning on
// struct tags the yaml.v2 decoder doesn't support as richly as JSON's.
package config

import (
	"io/ioutil"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/corywalker/ircframe/bot"
	"github.com/corywalker/ircframe/engine"
	"github.com/corywalker/ircframe/ratelimit"
)

// Server is one entry of the Servers list.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
}

// TokenBucket mirrors ratelimit.TokenBucketConfig for YAML decoding, with
// durations expressed as parseable strings ("500ms") rather than raw
// nanosecond integers.
type TokenBucket struct {
	Enabled         bool   `yaml:"enabled"`
	MaxTokens       int    `yaml:"max_tokens"`
	ReplenishPeriod string `yaml:"replenish_period"`
	ReplenishAmount int    `yaml:"replenish_amount"`
	QueueMax        int    `yaml:"queue_max"`
}

func (t TokenBucket) toRatelimit() (ratelimit.TokenBucketConfig, error) {
	period, err := parseDuration(t.ReplenishPeriod)
	if err != nil {
		return ratelimit.TokenBucketConfig{}, errors.Wrap(err, "replenish_period")
	}
	return ratelimit.TokenBucketConfig{
		Enabled:         t.Enabled,
		MaxTokens:       t.MaxTokens,
		ReplenishPeriod: period,
		ReplenishAmount: t.ReplenishAmount,
		QueueMax:        t.QueueMax,
	}, nil
}

// SlidingWindow mirrors ratelimit.SlidingWindowConfig for YAML decoding.
type SlidingWindow struct {
	Enabled  bool   `yaml:"enabled"`
	Duration string `yaml:"duration"`
	Limit    int    `yaml:"limit"`
	Segments int    `yaml:"segments"`
	QueueMax int    `yaml:"queue_max"`
}

func (w SlidingWindow) toRatelimit() (ratelimit.SlidingWindowConfig, error) {
	dur, err := parseDuration(w.Duration)
	if err != nil {
		return ratelimit.SlidingWindowConfig{}, errors.Wrap(err, "duration")
	}
	return ratelimit.SlidingWindowConfig{
		Enabled:  w.Enabled,
		Duration: dur,
		Limit:    w.Limit,
		Segments: w.Segments,
		QueueMax: w.QueueMax,
	}, nil
}

// RateLimit is the YAML shape of the four limiter components.
type RateLimit struct {
	DefaultPerTarget TokenBucket              `yaml:"default_per_target"`
	PerTarget        map[string]TokenBucket   `yaml:"per_target"`
	DefaultPerCmd    SlidingWindow            `yaml:"default_per_command"`
	PerCommand       map[string]SlidingWindow `yaml:"per_command"`
	GlobalCommand    TokenBucket              `yaml:"global_command"`
	GlobalBytes      SlidingWindow            `yaml:"global_bytes"`
}

func (r RateLimit) toRatelimit() (ratelimit.Options, error) {
	var out ratelimit.Options
	var err error

	if out.PerTarget.Default, err = r.DefaultPerTarget.toRatelimit(); err != nil {
		return out, errors.Wrap(err, "default_per_target")
	}
	out.PerTarget.Overrides = map[string]ratelimit.TokenBucketConfig{}
	for k, v := range r.PerTarget {
		conv, err := v.toRatelimit()
		if err != nil {
			return out, errors.Wrapf(err, "per_target[%s]", k)
		}
		out.PerTarget.Overrides[k] = conv
	}

	if out.PerCommand.Default, err = r.DefaultPerCmd.toRatelimit(); err != nil {
		return out, errors.Wrap(err, "default_per_command")
	}
	out.PerCommand.Overrides = map[string]ratelimit.SlidingWindowConfig{}
	for k, v := range r.PerCommand {
		conv, err := v.toRatelimit()
		if err != nil {
			return out, errors.Wrapf(err, "per_command[%s]", k)
		}
		out.PerCommand.Overrides[k] = conv
	}

	if out.GlobalCommand, err = r.GlobalCommand.toRatelimit(); err != nil {
		return out, errors.Wrap(err, "global_command")
	}
	if out.GlobalBytes, err = r.GlobalBytes.toRatelimit(); err != nil {
		return out, errors.Wrap(err, "global_bytes")
	}
	return out, nil
}

// Network is the top-level YAML document: every recognized option, split across
// engine.Options and bot.Options the same way the package layout does.
type Network struct {
	Servers []Server `yaml:"servers"`

	PrimaryNick   string `yaml:"primary_nick"`
	SecondaryNick string `yaml:"secondary_nick"`
	Ident         string `yaml:"ident"`
	RealName      string `yaml:"real_name"`

	ServerPassword string `yaml:"server_password"`

	AccountName                string   `yaml:"account_name"`
	AccountPassword            string   `yaml:"account_password"`
	AccountCertificateFile     string   `yaml:"account_certificate_file"`
	AccountCertificatePassword string   `yaml:"account_certificate_password"`
	DisabledSaslMechs          []string `yaml:"disabled_sasl_mechs"`
	AbortOnSaslFailure         bool     `yaml:"abort_on_sasl_failure"`

	ConnectTimeout string `yaml:"connect_timeout"`
	ConnectRetries int    `yaml:"connect_retries"`
	PingInterval   string `yaml:"ping_interval"`
	PingTimeout    string `yaml:"ping_timeout"`

	AcceptAllCertificates bool     `yaml:"accept_all_certificates"`
	TrustedFingerprints   []string `yaml:"trusted_fingerprints"`
	CheckOnlineRevocation bool     `yaml:"check_online_revocation"`
	BindHost              string   `yaml:"bind_host"`

	UseCPrivmsg bool `yaml:"use_cprivmsg"`

	Channels []string `yaml:"channels"`

	OperName             string `yaml:"oper_name"`
	OperPassword         string `yaml:"oper_password"`
	ChallengeKeyFile     string `yaml:"challenge_key_file"`
	ChallengeKeyPassword string `yaml:"challenge_key_password"`
	ServiceOperPassword  string `yaml:"service_oper_password"`
	ServiceOperCommand   string `yaml:"service_oper_command"`

	JoinTimeoutMS string `yaml:"join_timeout_ms"`
	CommandPrefix string `yaml:"command_prefix"`

	Permissions map[string][]string `yaml:"permissions"`

	RateLimiter RateLimit `yaml:"rate_limiter"`
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Load reads and unmarshals path, then validates and converts it into
// bot.Options, rejecting missing required fields before anything dials.
func Load(path string) (bot.Options, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return bot.Options{}, errors.Wrap(err, "reading config file")
	}
	var n Network
	if err := yaml.Unmarshal(raw, &n); err != nil {
		return bot.Options{}, errors.Wrap(err, "parsing yaml")
	}
	return n.toBotOptions()
}

func (n Network) toBotOptions() (bot.Options, error) {
	if len(n.Servers) == 0 {
		return bot.Options{}, errors.New("config: servers is required and must be non-empty")
	}
	if n.PrimaryNick == "" {
		return bot.Options{}, errors.New("config: primary_nick is required")
	}
	if n.Ident == "" {
		return bot.Options{}, errors.New("config: ident is required")
	}
	if n.RealName == "" {
		return bot.Options{}, errors.New("config: real_name is required")
	}

	var servers []engine.ServerAddr
	for _, s := range n.Servers {
		if s.Host == "" || s.Port == 0 {
			return bot.Options{}, errors.New("config: each servers entry requires host and port")
		}
		servers = append(servers, engine.ServerAddr{Host: s.Host, Port: s.Port, TLS: s.TLS})
	}

	connectTimeout, err := parseDuration(n.ConnectTimeout)
	if err != nil {
		return bot.Options{}, errors.Wrap(err, "connect_timeout")
	}
	pingInterval, err := parseDuration(n.PingInterval)
	if err != nil {
		return bot.Options{}, errors.Wrap(err, "ping_interval")
	}
	pingTimeout, err := parseDuration(n.PingTimeout)
	if err != nil {
		return bot.Options{}, errors.Wrap(err, "ping_timeout")
	}
	var joinTimeout time.Duration
	if ms, convErr := strconv.Atoi(n.JoinTimeoutMS); convErr == nil {
		joinTimeout = time.Duration(ms) * time.Millisecond
	} else if joinTimeout, err = parseDuration(n.JoinTimeoutMS); err != nil {
		return bot.Options{}, errors.Wrap(err, "join_timeout_ms")
	}

	disabled := map[string]struct{}{}
	for _, m := range n.DisabledSaslMechs {
		disabled[m] = struct{}{}
	}
	fingerprints := map[string]struct{}{}
	for _, f := range n.TrustedFingerprints {
		fingerprints[strings.ToLower(f)] = struct{}{}
	}

	rl, err := n.RateLimiter.toRatelimit()
	if err != nil {
		return bot.Options{}, errors.Wrap(err, "rate_limiter")
	}

	engineOpts := engine.Options{
		Servers:                    servers,
		PrimaryNick:                n.PrimaryNick,
		SecondaryNick:              n.SecondaryNick,
		Ident:                      n.Ident,
		RealName:                   n.RealName,
		ServerPassword:             n.ServerPassword,
		AccountName:                n.AccountName,
		AccountPassword:            n.AccountPassword,
		AccountCertificateFile:     n.AccountCertificateFile,
		AccountCertificatePassword: n.AccountCertificatePassword,
		DisabledSaslMechs:          disabled,
		AbortOnSaslFailure:         n.AbortOnSaslFailure,
		ConnectTimeout:             connectTimeout,
		ConnectRetries:             n.ConnectRetries,
		PingInterval:               pingInterval,
		PingTimeout:                pingTimeout,
		AcceptAllCertificates:      n.AcceptAllCertificates,
		TrustedFingerprints:        fingerprints,
		CheckOnlineRevocation:      n.CheckOnlineRevocation,
		BindHost:                   n.BindHost,
		UseCPrivmsg:                n.UseCPrivmsg,
		RateLimiter:                rl,
	}

	return bot.Options{
		Engine:               engineOpts,
		Channels:             n.Channels,
		OperName:             n.OperName,
		OperPassword:         n.OperPassword,
		ChallengeKeyFile:     n.ChallengeKeyFile,
		ChallengeKeyPassword: n.ChallengeKeyPassword,
		ServiceOperPassword:  n.ServiceOperPassword,
		ServiceOperCommand:   n.ServiceOperCommand,
		JoinTimeout:          joinTimeout,
		CommandPrefix:        n.CommandPrefix,
		Permissions:          n.Permissions,
	}, nil
}
