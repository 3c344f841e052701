package bot

import (
	"time"

	"github.com/corywalker/ircframe/engine"
)

// Options is the bot-runtime-only configuration surface: engine
// Options plus the startup-sequence, dispatcher, and oper fields that only
// make sense once a bot (not just a bare transport) is driving the
// network.
type Options struct {
	Engine engine.Options

	// Channels entries are "#name" or "#name key".
	Channels []string

	OperName             string
	OperPassword         string
	ChallengeKeyFile     string
	ChallengeKeyPassword string
	ServiceOperPassword  string
	ServiceOperCommand   string // raw command with a "{password}" placeholder

	JoinTimeout   time.Duration
	CommandPrefix string

	Permissions map[string][]string
}

func withBotDefaults(o *Options) {
	if o.JoinTimeout == 0 {
		o.JoinTimeout = 10 * time.Second
	}
	if o.CommandPrefix == "" {
		o.CommandPrefix = "!"
	}
}
