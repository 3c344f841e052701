package config

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
servers:
  - host: irc.example.org
    port: 6697
    tls: true
primary_nick: ircframebot
ident: framebot
real_name: Frame Bot
connect_timeout: 10s
ping_interval: 1m
ping_timeout: 30s
channels:
  - "#general"
  - "#ops opskey"
command_prefix: "!"
rate_limiter:
  default_per_target:
    enabled: true
    max_tokens: 2
    replenish_period: 3s
    replenish_amount: 1
    queue_max: 4
  global_command:
    enabled: true
    max_tokens: 10
    replenish_period: 1s
    replenish_amount: 5
    queue_max: 8
  global_bytes:
    enabled: true
    duration: 1s
    limit: 8192
    segments: 4
    queue_max: 8
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	f, err := ioutil.TempFile("", "ircframe-config-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestLoadPopulatesOptions(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	opts, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ircframebot", opts.Engine.PrimaryNick)
	assert.Equal(t, "framebot", opts.Engine.Ident)
	require.Len(t, opts.Engine.Servers, 1)
	assert.Equal(t, "irc.example.org", opts.Engine.Servers[0].Host)
	assert.Equal(t, 6697, opts.Engine.Servers[0].Port)
	assert.True(t, opts.Engine.Servers[0].TLS)
	assert.Equal(t, []string{"#general", "#ops opskey"}, opts.Channels)
	assert.Equal(t, "!", opts.CommandPrefix)
	assert.True(t, opts.Engine.RateLimiter.PerTarget.Default.Enabled)
	assert.Equal(t, 2, opts.Engine.RateLimiter.PerTarget.Default.MaxTokens)
	assert.Equal(t, 8192, opts.Engine.RateLimiter.GlobalBytes.Limit)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeTemp(t, "primary_nick: onlynick\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "servers")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeTemp(t, sampleYAML+"\nconnect_timeout: not-a-duration\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect_timeout")
}
