package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corywalker/ircframe/engine"
	"github.com/corywalker/ircframe/state"
)

func seedOppedSharedChannel(t *testing.T, b *Bot, selfPrefix string) (selfID state.UserID, targetID state.UserID, channelID state.ChannelID) {
	t.Helper()
	selfID = state.NewUserID()
	targetID = state.NewUserID()
	channelID = state.NewChannelID()

	err := b.Network().UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		s.Self = selfID
		var err error
		s, err = s.UpsertUser(state.User{ID: selfID, Nick: "bender", Modes: map[byte]struct{}{}, Channels: map[state.ChannelID]string{}})
		if err != nil {
			return s, err
		}
		s, err = s.UpsertUser(state.User{ID: targetID, Nick: "alice", Modes: map[byte]struct{}{}, Channels: map[state.ChannelID]string{}})
		if err != nil {
			return s, err
		}
		s, err = s.UpsertChannel(state.Channel{ID: channelID, Name: "#ops", Modes: map[byte]*string{}, Users: map[state.UserID]string{}})
		if err != nil {
			return s, err
		}
		s, err = s.Join(selfID, channelID, selfPrefix)
		if err != nil {
			return s, err
		}
		return s.Join(targetID, channelID, "")
	})
	require.NoError(t, err)
	return selfID, targetID, channelID
}

func TestCprivmsgFormUsesCPrivmsgWhenOppedInSharedChannel(t *testing.T) {
	b := New(Options{Engine: engine.Options{UseCPrivmsg: true}}, nil)
	seedOppedSharedChannel(t, b, "@")

	verb, args, ok := b.cprivmsgForm("PRIVMSG", "alice")
	require.True(t, ok)
	assert.Equal(t, "CPRIVMSG", verb)
	assert.Equal(t, []string{"alice", "#ops"}, args)
}

func TestCprivmsgFormFallsBackWithoutOp(t *testing.T) {
	b := New(Options{Engine: engine.Options{UseCPrivmsg: true}}, nil)
	seedOppedSharedChannel(t, b, "+")

	_, _, ok := b.cprivmsgForm("PRIVMSG", "alice")
	assert.False(t, ok)
}

func TestCprivmsgFormIgnoresChannelTargets(t *testing.T) {
	b := New(Options{Engine: engine.Options{UseCPrivmsg: true}}, nil)
	seedOppedSharedChannel(t, b, "@")

	_, _, ok := b.cprivmsgForm("PRIVMSG", "#ops")
	assert.False(t, ok)
}
