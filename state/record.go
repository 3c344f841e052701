package state

// User is an immutable snapshot of one user as currently known to the
// network. Once published inside a Snapshot, none of its fields are
// mutated: an update produces a new User value and a new Snapshot.
type User struct {
	ID       UserID
	Nick     string
	Ident    string
	Host     string
	Account  string // "" means no account
	Away     bool
	RealName string

	// Modes holds the set of user-mode letters currently set (e.g. 'i', 'w').
	Modes map[byte]struct{}

	// Channels maps a channel id this user is a member of to their
	// status-prefix symbols on that channel (e.g. "@+", ""). Invariant:
	// Channels[c] equals the Users entry for this user on channel c; see
	// Snapshot.Join, which updates both sides together.
	Channels map[ChannelID]string
}

func (u User) clone() User {
	out := u
	out.Modes = cloneByteSet(u.Modes)
	out.Channels = cloneChanPrefixMap(u.Channels)
	return out
}

func cloneByteSet(in map[byte]struct{}) map[byte]struct{} {
	out := make(map[byte]struct{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneChanPrefixMap(in map[ChannelID]string) map[ChannelID]string {
	out := make(map[ChannelID]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneUserPrefixMap(in map[UserID]string) map[UserID]string {
	out := make(map[UserID]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneModeParams(in map[byte]*string) map[byte]*string {
	out := make(map[byte]*string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// HasMode reports whether m is among the user's set mode letters.
func (u User) HasMode(m byte) bool {
	_, ok := u.Modes[m]
	return ok
}

// Channel is an immutable snapshot of one channel as currently known to the
// network.
type Channel struct {
	ID    ChannelID
	Name  string
	Topic string

	// Modes maps a channel mode letter to its parameter, or nil if the mode
	// takes none (e.g. 'n', 'm'). A type-B mode ('k') always has a
	// parameter when set; type-C ('l') has one only while set.
	Modes map[byte]*string

	// Users maps a member's user id to their status-prefix symbols on this
	// channel (e.g. "@+", "").
	Users map[UserID]string
}

func (c Channel) clone() Channel {
	out := c
	out.Modes = cloneModeParams(c.Modes)
	out.Users = cloneUserPrefixMap(c.Users)
	return out
}

// HasUser reports whether uid is a member of this channel.
func (c Channel) HasUser(uid UserID) bool {
	_, ok := c.Users[uid]
	return ok
}
