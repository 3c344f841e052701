package state

import "strings"

// Snapshot is an immutable view of the entire known network: users,
// channels, capabilities, and the ISUPPORT-derived parsing rules, as of one
// point in the command stream. Snapshots are totally ordered:
// a reader that observes snapshot S never later observes a snapshot that
// omits an update already present in S.
type Snapshot struct {
	Self UserID

	ISupport ISupport

	// EnabledCaps maps an enabled capability name to its optional value.
	EnabledCaps map[string]*string
	// SupportedCaps is the full set the server advertised in CAP LS.
	SupportedCaps map[string]*string

	usersByID  map[UserID]User
	usersByKey map[string]UserID // case-folded nick -> id

	channelsByID  map[ChannelID]Channel
	channelsByKey map[string]ChannelID // case-folded name -> id
}

// Empty returns a freshly initialized Snapshot with no users, channels, or
// capabilities and default ISUPPORT values.
func Empty() Snapshot {
	return Snapshot{
		ISupport:      DefaultISupport(),
		EnabledCaps:   map[string]*string{},
		SupportedCaps: map[string]*string{},
		usersByID:     map[UserID]User{},
		usersByKey:    map[string]UserID{},
		channelsByID:  map[ChannelID]Channel{},
		channelsByKey: map[string]ChannelID{},
	}
}

// UserByID looks up a user by opaque id.
func (s Snapshot) UserByID(id UserID) (User, bool) {
	u, ok := s.usersByID[id]
	return u, ok
}

// UserByNick looks up a user by nick under the active case mapping.
func (s Snapshot) UserByNick(nick string) (User, bool) {
	id, ok := s.usersByKey[s.ISupport.CaseMapping.Fold(nick)]
	if !ok {
		return User{}, false
	}
	u, ok := s.usersByID[id]
	return u, ok
}

// ChannelByID looks up a channel by opaque id.
func (s Snapshot) ChannelByID(id ChannelID) (Channel, bool) {
	c, ok := s.channelsByID[id]
	return c, ok
}

// ChannelByName looks up a channel by name under the active case mapping.
func (s Snapshot) ChannelByName(name string) (Channel, bool) {
	id, ok := s.channelsByKey[s.ISupport.CaseMapping.Fold(name)]
	if !ok {
		return Channel{}, false
	}
	c, ok := s.channelsByID[id]
	return c, ok
}

// SelfUser is a convenience accessor for the snapshot's own user record.
func (s Snapshot) SelfUser() (User, bool) {
	return s.UserByID(s.Self)
}

// IsChannelName reports whether name begins with one of the network's
// ISUPPORT CHANTYPES prefix characters.
func (s Snapshot) IsChannelName(name string) bool {
	return name != "" && strings.IndexByte(s.ISupport.ChanTypes, name[0]) != -1
}

// Users returns every user currently known, in no particular order.
func (s Snapshot) Users() []User {
	out := make([]User, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		out = append(out, u)
	}
	return out
}

// Channels returns every channel currently known, in no particular order.
func (s Snapshot) Channels() []Channel {
	out := make([]Channel, 0, len(s.channelsByID))
	for _, c := range s.channelsByID {
		out = append(out, c)
	}
	return out
}

// Clone produces a deep-enough copy of s so that mutating the copy's index
// and capability maps never affects s. Individual User/Channel values are
// immutable once published, so only the top-level maps need copying, not
// every value. Updaters that hold a Snapshot and want to write to its maps
// directly (capability bookkeeping, ISUPPORT) must work on a Clone so
// readers of the previously published snapshot never observe the
// change.
func (s Snapshot) Clone() Snapshot {
	return s.clone()
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.EnabledCaps = cloneCapMap(s.EnabledCaps)
	out.SupportedCaps = cloneCapMap(s.SupportedCaps)
	out.usersByID = make(map[UserID]User, len(s.usersByID))
	for k, v := range s.usersByID {
		out.usersByID[k] = v
	}
	out.usersByKey = make(map[string]UserID, len(s.usersByKey))
	for k, v := range s.usersByKey {
		out.usersByKey[k] = v
	}
	out.channelsByID = make(map[ChannelID]Channel, len(s.channelsByID))
	for k, v := range s.channelsByID {
		out.channelsByID[k] = v
	}
	out.channelsByKey = make(map[string]ChannelID, len(s.channelsByKey))
	for k, v := range s.channelsByKey {
		out.channelsByKey[k] = v
	}
	return out
}

func cloneCapMap(in map[string]*string) map[string]*string {
	out := make(map[string]*string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
