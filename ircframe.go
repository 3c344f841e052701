package ircframe

import (
	"go.uber.org/zap"

	"github.com/corywalker/ircframe/bot"
	"github.com/corywalker/ircframe/config"
)

// Bot is bot.Bot: the command dispatcher and startup sequence.
type Bot = bot.Bot

// Options is bot.Options: the full configuration surface.
type Options = bot.Options

// LoadConfig loads and validates a YAML configuration file into Options,
// the same file config.Load reads.
func LoadConfig(path string) (Options, error) {
	return config.Load(path)
}

// New constructs a Bot from opts. logger may be nil, in which case the bot
// logs nothing.
func New(opts Options, logger *zap.SugaredLogger) *Bot {
	return bot.New(opts, logger)
}
