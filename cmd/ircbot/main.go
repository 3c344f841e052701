// Command ircbot is an example wiring of github.com/corywalker/ircframe:
// it loads a YAML config (config package), registers a sample bot
// command, and runs the bot under bot.Supervise, reconnecting after each
// disconnect until it receives an interrupt or SIGTERM.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/corywalker/ircframe/bot"
	"github.com/corywalker/ircframe/config"
)

func main() {
	log.SetFlags(0)

	configFile := flag.String("config", "", "Configuration file (YAML).")
	flag.Parse()

	if *configFile == "" {
		flag.PrintDefaults()
		log.Fatal("you must provide a configuration file")
	}

	opts, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("loading config: %s", err)
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("building logger: %s", err)
	}
	defer zlog.Sync() // nolint:errcheck
	sugar := zlog.Sugar()

	b := bot.New(opts, sugar)
	registerSampleCommands(b)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		sugar.Info("shutdown signal received")
		b.Network().Disconnect("shutting down")
		cancel()
	}()

	if err := bot.Supervise(ctx, b, bot.ReconnectOptions{}, sugar); err != nil {
		sugar.Infow("bot exited", "error", err)
	}
}

// registerSampleCommands wires a trivial "ping" command so the binary
// does something observable out of the box; real deployments register
// their own via b.RegisterCommand.
func registerSampleCommands(b *bot.Bot) {
	b.RegisterCommand(bot.CommandSpec{
		Verb: "ping",
		Handler: func(ctx *bot.Context, args *bot.BoundArgs) (interface{}, error) {
			return "pong", nil
		},
	})
}
