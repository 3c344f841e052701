// Package ircframe is a client-side IRC transport and bot framework: wire
// codec and line splitting (message, linebreak), the connection and
// protocol engine (netconn, engine), an atomically-swapped network state
// store (state), a partitioned send-side rate limiter (ratelimit), SASL
// negotiation (sasl), YAML configuration (config), and a chat-command
// dispatcher with a bot runtime on top (bot).
//
// Most programs only need the bot and config packages; see cmd/ircbot for
// a minimal wiring example. ircframe.go re-exports the handful of types a
// caller touches most often so a simple bot can import a single package.
package ircframe
