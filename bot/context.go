package bot

import "github.com/corywalker/ircframe/state"

// Context is the context object injected into every handler invocation:
// the current bot, the sender's user record, the raw args and
// full command line, and the target a reply should go to (the channel for
// a channel invocation, the sender's nick for a private one).
type Context struct {
	Bot         *Bot
	Sender      state.User
	Command     string
	RawArgs     string
	FullLine    string
	ReplyTarget string
}
