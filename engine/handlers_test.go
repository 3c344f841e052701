package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corywalker/ircframe/message"
	"github.com/corywalker/ircframe/state"
)

// newTestNetwork builds a Network with self already registered as nick,
// the way handshakeWelcome would have left it, without any socket.
func newTestNetwork(t *testing.T, nick string) *Network {
	t.Helper()
	n := New(Options{PrimaryNick: nick}, nil)
	err := n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		id := state.NewUserID()
		s.Self = id
		return s.UpsertUser(state.User{
			ID:       id,
			Nick:     nick,
			Ident:    "id",
			Modes:    map[byte]struct{}{},
			Channels: map[state.ChannelID]string{},
		})
	})
	require.NoError(t, err)
	return n
}

func feed(t *testing.T, n *Network, lines ...string) {
	t.Helper()
	for _, line := range lines {
		cmd, err := message.Parse(line)
		require.NoError(t, err, line)
		n.handleInbound(cmd)
	}
}

func TestJoinSelfThenOther(t *testing.T) {
	n := newTestNetwork(t, "test")

	feed(t, n,
		":test!id@127.0.0.1 JOIN #TestiNg",
		":foo!~bar@baz/baz JOIN #TestiNg",
	)

	snap := n.State()
	ch, ok := snap.ChannelByName("#TestiNg")
	require.True(t, ok)
	assert.Len(t, ch.Users, 2)

	foo, ok := snap.UserByNick("foo")
	require.True(t, ok)
	assert.Equal(t, "~bar", foo.Ident)
	assert.Equal(t, "baz/baz", foo.Host)
	assert.Equal(t, "", ch.Users[foo.ID])

	self, _ := snap.SelfUser()
	assert.Equal(t, "", ch.Users[self.ID])
	assert.Equal(t, "", self.Channels[ch.ID])
}

func TestExtendedJoinUpdatesSelfAccount(t *testing.T) {
	n := newTestNetwork(t, "test")
	require.NoError(t, n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		s.EnabledCaps["extended-join"] = nil
		return s, nil
	}))

	feed(t, n, ":test!id@127.0.0.1 JOIN #C acct :real name")
	self, _ := n.State().SelfUser()
	assert.Equal(t, "acct", self.Account)
	assert.Equal(t, "real name", self.RealName)

	feed(t, n, ":test!id@127.0.0.1 JOIN #D * :r")
	self, _ = n.State().SelfUser()
	assert.Equal(t, "", self.Account)
	assert.Equal(t, "r", self.RealName)
}

func TestModeWalk(t *testing.T) {
	n := newTestNetwork(t, "test")

	feed(t, n,
		":test!id@127.0.0.1 JOIN #c",
		":a!a@h JOIN #c",
		":b!b@h JOIN #c",
		":c!c@h JOIN #c",
		":srv MODE #c +iobl a d!*@* 5",
		":srv MODE #c +vv-vv test a b c",
	)

	snap := n.State()
	ch, ok := snap.ChannelByName("#c")
	require.True(t, ok)

	self, _ := snap.SelfUser()
	a, _ := snap.UserByNick("a")
	b, _ := snap.UserByNick("b")
	c, _ := snap.UserByNick("c")
	assert.Equal(t, "+", ch.Users[self.ID])
	assert.Equal(t, "@+", ch.Users[a.ID])
	assert.Equal(t, "", ch.Users[b.ID])
	assert.Equal(t, "", ch.Users[c.ID])

	require.Contains(t, ch.Modes, byte('i'))
	assert.Nil(t, ch.Modes['i'])
	assert.NotContains(t, ch.Modes, byte('k'))
	require.Contains(t, ch.Modes, byte('l'))
	assert.Equal(t, "5", *ch.Modes['l'])

	feed(t, n, ":srv MODE #c +k-o pw a")

	snap = n.State()
	ch, _ = snap.ChannelByName("#c")
	require.Contains(t, ch.Modes, byte('k'))
	assert.Equal(t, "pw", *ch.Modes['k'])
	require.Contains(t, ch.Modes, byte('l'))
	assert.Equal(t, "5", *ch.Modes['l'])
	assert.Equal(t, "+", ch.Users[a.ID])
}

func TestSelfUserModes(t *testing.T) {
	n := newTestNetwork(t, "test")

	feed(t, n, ":srv MODE test +iw")
	self, _ := n.State().SelfUser()
	assert.True(t, self.HasMode('i'))
	assert.True(t, self.HasMode('w'))

	feed(t, n, ":srv MODE test -w")
	self, _ = n.State().SelfUser()
	assert.True(t, self.HasMode('i'))
	assert.False(t, self.HasMode('w'))

	feed(t, n, ":srv 221 test +ox")
	self, _ = n.State().SelfUser()
	assert.True(t, self.HasMode('o'))
	assert.True(t, self.HasMode('x'))
	assert.False(t, self.HasMode('i')) // 221 replaces, not merges
}

func TestPartKickQuitGarbageCollection(t *testing.T) {
	n := newTestNetwork(t, "test")

	feed(t, n,
		":test!id@127.0.0.1 JOIN #a",
		":foo!f@h JOIN #a",
		":foo!f@h JOIN #b", // creates #b on the fly
	)
	// PART from one channel keeps the user, losing the last one collects
	// them.
	feed(t, n, ":foo!f@h PART #b")
	_, ok := n.State().UserByNick("foo")
	assert.True(t, ok)

	feed(t, n, ":srv KICK #a foo :bye")
	_, ok = n.State().UserByNick("foo")
	assert.False(t, ok)

	// Self is never collected.
	feed(t, n, ":test!id@127.0.0.1 PART #a")
	_, ok = n.State().SelfUser()
	assert.True(t, ok)

	feed(t, n, ":bar!b@h JOIN #a", ":bar!b@h QUIT :gone")
	_, ok = n.State().UserByNick("bar")
	assert.False(t, ok)
}

func TestNickRenameAndCollision(t *testing.T) {
	n := newTestNetwork(t, "test")
	feed(t, n,
		":alice!a@h JOIN #c",
		":bob!b@h JOIN #c",
		":alice!a@h NICK alicia",
	)

	snap := n.State()
	_, ok := snap.UserByNick("alice")
	assert.False(t, ok)
	_, ok = snap.UserByNick("alicia")
	assert.True(t, ok)

	// A rename onto an existing nick is corrupted state: the engine
	// disconnects.
	feed(t, n, ":alicia!a@h NICK bob")
	select {
	case <-n.Done():
	default:
		t.Fatal("expected BadStateError to tear the network down")
	}
}

func TestAccountAwayChghostSetname(t *testing.T) {
	n := newTestNetwork(t, "test")
	feed(t, n,
		":foo!f@h JOIN #c",
		":foo!f@h ACCOUNT services-acct",
		":foo!f@h AWAY :brb",
		":foo!f@h CHGHOST newident cloak/foo",
		":foo!f@h SETNAME :Foo Fooson",
	)

	foo, ok := n.State().UserByNick("foo")
	require.True(t, ok)
	assert.Equal(t, "services-acct", foo.Account)
	assert.True(t, foo.Away)
	assert.Equal(t, "newident", foo.Ident)
	assert.Equal(t, "cloak/foo", foo.Host)
	assert.Equal(t, "Foo Fooson", foo.RealName)

	feed(t, n, ":foo!f@h ACCOUNT *", ":foo!f@h AWAY")
	foo, _ = n.State().UserByNick("foo")
	assert.Equal(t, "", foo.Account)
	assert.False(t, foo.Away)
}

func TestNamReplyRequiresUserhostInNames(t *testing.T) {
	n := newTestNetwork(t, "test")

	feed(t, n, ":srv 353 test = #c :@ops!o@h +voice!v@h plain!p@h")
	_, ok := n.State().UserByNick("ops")
	assert.False(t, ok)

	require.NoError(t, n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		s.EnabledCaps["userhost-in-names"] = nil
		return s, nil
	}))
	feed(t, n, ":srv 353 test = #c :@ops!o@h +voice!v@h plain!p@h")

	snap := n.State()
	ch, ok := snap.ChannelByName("#c")
	require.True(t, ok)
	ops, ok := snap.UserByNick("ops")
	require.True(t, ok)
	assert.Equal(t, "o", ops.Ident)
	assert.Equal(t, "h", ops.Host)
	assert.Equal(t, "@", ch.Users[ops.ID])
	voice, _ := snap.UserByNick("voice")
	assert.Equal(t, "+", ch.Users[voice.ID])
	plain, _ := snap.UserByNick("plain")
	assert.Equal(t, "", ch.Users[plain.ID])
}

func TestWhoReply(t *testing.T) {
	n := newTestNetwork(t, "test")
	feed(t, n,
		":test!id@127.0.0.1 JOIN #c",
		":srv 352 test #c wuser whost.example srv wnick G*@ :0 Double U",
	)

	snap := n.State()
	w, ok := snap.UserByNick("wnick")
	require.True(t, ok)
	assert.Equal(t, "wuser", w.Ident)
	assert.Equal(t, "whost.example", w.Host)
	assert.Equal(t, "Double U", w.RealName)
	assert.True(t, w.Away)
	ch, _ := snap.ChannelByName("#c")
	assert.Equal(t, "@", ch.Users[w.ID])
}

func TestTopicAndRename(t *testing.T) {
	n := newTestNetwork(t, "test")
	feed(t, n,
		":test!id@127.0.0.1 JOIN #old",
		":srv 332 test #old :the topic",
	)
	ch, _ := n.State().ChannelByName("#old")
	assert.Equal(t, "the topic", ch.Topic)

	feed(t, n, ":srv RENAME #old #new :reorganizing")
	snap := n.State()
	_, ok := snap.ChannelByName("#old")
	assert.False(t, ok)
	renamed, ok := snap.ChannelByName("#new")
	require.True(t, ok)
	assert.Equal(t, ch.ID, renamed.ID)
	assert.Equal(t, "the topic", renamed.Topic)
}

func TestISupportListener(t *testing.T) {
	n := newTestNetwork(t, "test")
	feed(t, n, ":srv 005 test PREFIX=(ohv)@%+ CASEMAPPING=rfc1459 CHANMODES=beI,k,l,imnpst :are supported by this server")

	is := n.State().ISupport
	assert.Equal(t, "ohv", is.Prefix.Modes)
	assert.Equal(t, "@%+", is.Prefix.Symbols)
	assert.Equal(t, state.CaseMappingRFC1459, is.CaseMapping)
	assert.Equal(t, "beI", is.ChanModes.A)
}

func TestCapNewDel(t *testing.T) {
	n := newTestNetwork(t, "test")
	require.NoError(t, n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		s.SupportedCaps["sasl"] = nil
		s.EnabledCaps["sasl"] = nil
		return s, nil
	}))

	feed(t, n, ":srv CAP test NEW :batch away-notify")
	snap := n.State()
	assert.Contains(t, snap.SupportedCaps, "batch")
	assert.Contains(t, snap.SupportedCaps, "away-notify")

	feed(t, n, ":srv CAP test DEL :sasl")
	snap = n.State()
	assert.NotContains(t, snap.SupportedCaps, "sasl")
	assert.NotContains(t, snap.EnabledCaps, "sasl")
}
