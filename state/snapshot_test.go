package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, s Snapshot, nick string) (Snapshot, User) {
	t.Helper()
	u := User{
		ID:       NewUserID(),
		Nick:     nick,
		Modes:    map[byte]struct{}{},
		Channels: map[ChannelID]string{},
	}
	out, err := s.UpsertUser(u)
	require.NoError(t, err)
	return out, u
}

func seedChannel(t *testing.T, s Snapshot, name string) (Snapshot, Channel) {
	t.Helper()
	c := Channel{
		ID:    NewChannelID(),
		Name:  name,
		Modes: map[byte]*string{},
		Users: map[UserID]string{},
	}
	out, err := s.UpsertChannel(c)
	require.NoError(t, err)
	return out, c
}

func TestRenameUserReindexesNick(t *testing.T) {
	s, u := seedUser(t, Empty(), "foo")

	s, err := s.RenameUser(u.ID, "bar")
	require.NoError(t, err)

	_, ok := s.UserByNick("foo")
	assert.False(t, ok)
	got, ok := s.UserByNick("bar")
	require.True(t, ok)
	assert.Equal(t, u.ID, got.ID)
}

func TestRenameUserPureCaseChangeKeepsLookup(t *testing.T) {
	s, u := seedUser(t, Empty(), "foo")

	s, err := s.RenameUser(u.ID, "FoO")
	require.NoError(t, err)

	// Under the case mapping the old spelling still resolves to the same
	// id; only the canonical spelling changed.
	got, ok := s.UserByNick("foo")
	require.True(t, ok)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "FoO", got.Nick)
}

func TestRenameUserCollisionIsBadState(t *testing.T) {
	s, _ := seedUser(t, Empty(), "foo")
	s, u2 := seedUser(t, s, "bar")

	_, err := s.RenameUser(u2.ID, "FOO")
	require.Error(t, err)
	var bad *BadStateError
	assert.ErrorAs(t, err, &bad)
}

func TestMembershipSymmetry(t *testing.T) {
	s, u := seedUser(t, Empty(), "foo")
	s, c := seedChannel(t, s, "#test")

	s, err := s.Join(u.ID, c.ID, "@+")
	require.NoError(t, err)

	gotU, _ := s.UserByID(u.ID)
	gotC, _ := s.ChannelByID(c.ID)
	assert.Equal(t, "@+", gotU.Channels[c.ID])
	assert.Equal(t, "@+", gotC.Users[u.ID])

	s = s.Part(u.ID, c.ID)
	gotC, _ = s.ChannelByID(c.ID)
	assert.NotContains(t, gotC.Users, u.ID)
}

func TestPartGarbageCollectsChannellessUser(t *testing.T) {
	s, u := seedUser(t, Empty(), "foo")
	s, c := seedChannel(t, s, "#only")
	s, err := s.Join(u.ID, c.ID, "")
	require.NoError(t, err)

	s = s.Part(u.ID, c.ID)
	_, ok := s.UserByID(u.ID)
	assert.False(t, ok)
	_, ok = s.UserByNick("foo")
	assert.False(t, ok)
}

func TestPartNeverGarbageCollectsSelf(t *testing.T) {
	s, u := seedUser(t, Empty(), "me")
	s.Self = u.ID
	s, c := seedChannel(t, s, "#only")
	s, err := s.Join(u.ID, c.ID, "")
	require.NoError(t, err)

	s = s.Part(u.ID, c.ID)
	got, ok := s.UserByID(u.ID)
	require.True(t, ok)
	assert.Empty(t, got.Channels)
}

func TestPartAllRemovesEveryMembership(t *testing.T) {
	s, u := seedUser(t, Empty(), "foo")
	s, c1 := seedChannel(t, s, "#a")
	s, c2 := seedChannel(t, s, "#b")
	var err error
	s, err = s.Join(u.ID, c1.ID, "")
	require.NoError(t, err)
	s, err = s.Join(u.ID, c2.ID, "+")
	require.NoError(t, err)

	s = s.PartAll(u.ID)
	_, ok := s.UserByID(u.ID)
	assert.False(t, ok)
	gotC1, _ := s.ChannelByID(c1.ID)
	gotC2, _ := s.ChannelByID(c2.ID)
	assert.Empty(t, gotC1.Users)
	assert.Empty(t, gotC2.Users)
}

func TestRenameChannelCollisionIsBadState(t *testing.T) {
	s, _ := seedChannel(t, Empty(), "#a")
	s, c2 := seedChannel(t, s, "#b")

	_, err := s.RenameChannel(c2.ID, "#A")
	require.Error(t, err)
	var bad *BadStateError
	assert.ErrorAs(t, err, &bad)

	// A pure case change of the same channel is not a collision.
	s2, err := s.RenameChannel(c2.ID, "#B")
	require.NoError(t, err)
	got, ok := s2.ChannelByName("#b")
	require.True(t, ok)
	assert.Equal(t, "#B", got.Name)
}

func TestTryExtractUserFromSource(t *testing.T) {
	s, u := seedUser(t, Empty(), "Foo")

	got, ok := s.TryExtractUserFromSource("foo!~bar@baz.example")
	require.True(t, ok)
	assert.Equal(t, u.ID, got.ID)

	_, ok = s.TryExtractUserFromSource("nobody!x@y")
	assert.False(t, ok)

	// Bare server names resolve by the whole token, which matches no nick.
	_, ok = s.TryExtractUserFromSource("irc.example.com")
	assert.False(t, ok)
}

func TestSnapshotImmutableAcrossUpdates(t *testing.T) {
	s1, u := seedUser(t, Empty(), "foo")

	before, _ := s1.UserByID(u.ID)
	u.Away = true
	s2, err := s1.UpsertUser(u)
	require.NoError(t, err)

	// The earlier snapshot still reports the old record.
	stale, _ := s1.UserByID(u.ID)
	assert.Equal(t, before.Away, stale.Away)
	fresh, _ := s2.UserByID(u.ID)
	assert.True(t, fresh.Away)
}

func TestIsChannelName(t *testing.T) {
	s := Empty()
	assert.True(t, s.IsChannelName("#foo"))
	assert.True(t, s.IsChannelName("&foo"))
	assert.False(t, s.IsChannelName("foo"))
	assert.False(t, s.IsChannelName(""))
}
