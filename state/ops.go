package state

import "strings"

// UpsertUser publishes rec as the current record for its ID, following the
// nick-reindex and collision rules: a user update with an identical
// nick keeps its id in the nick index; otherwise the nick index is
// rewritten, and a collision with a different existing id raises
// BadStateError.
func (s Snapshot) UpsertUser(rec User) (Snapshot, error) {
	out := s.clone()
	key := out.ISupport.CaseMapping.Fold(rec.Nick)

	if existingID, ok := out.usersByKey[key]; ok && existingID != rec.ID {
		return s, badState("nick %q already belongs to a different user", rec.Nick)
	}

	if old, existed := out.usersByID[rec.ID]; existed {
		oldKey := out.ISupport.CaseMapping.Fold(old.Nick)
		if oldKey != key {
			delete(out.usersByKey, oldKey)
		}
	}

	out.usersByID[rec.ID] = rec.clone()
	out.usersByKey[key] = rec.ID
	return out, nil
}

// RemoveUser deletes a user record and its nick index entry. Removing self
// is permitted (callers should not call this for self outside of QUIT/
// disconnect handling).
func (s Snapshot) RemoveUser(id UserID) Snapshot {
	out := s.clone()
	if u, ok := out.usersByID[id]; ok {
		delete(out.usersByKey, out.ISupport.CaseMapping.Fold(u.Nick))
		delete(out.usersByID, id)
	}
	return out
}

// RenameUser changes a user's nick, validating uniqueness the same way
// UpsertUser does, and keeping channel membership maps (which key by id,
// not name) untouched.
func (s Snapshot) RenameUser(id UserID, newNick string) (Snapshot, error) {
	u, ok := s.usersByID[id]
	if !ok {
		return s, badState("rename of unknown user id %s", id)
	}
	u.Nick = newNick
	return s.UpsertUser(u)
}

// UpsertChannel publishes rec as the current record for its ID. A rename
// colliding with a different existing channel id is a BadStateError unless
// the only difference is a pure case change of the same channel.
func (s Snapshot) UpsertChannel(rec Channel) (Snapshot, error) {
	out := s.clone()
	key := out.ISupport.CaseMapping.Fold(rec.Name)

	if existingID, ok := out.channelsByKey[key]; ok && existingID != rec.ID {
		return s, badState("channel %q already belongs to a different channel", rec.Name)
	}

	if old, existed := out.channelsByID[rec.ID]; existed {
		oldKey := out.ISupport.CaseMapping.Fold(old.Name)
		if oldKey != key {
			delete(out.channelsByKey, oldKey)
		}
	}

	out.channelsByID[rec.ID] = rec.clone()
	out.channelsByKey[key] = rec.ID
	return out, nil
}

// RenameChannel renames a channel, enforcing the same collision rule as
// UpsertChannel.
func (s Snapshot) RenameChannel(id ChannelID, newName string) (Snapshot, error) {
	c, ok := s.channelsByID[id]
	if !ok {
		return s, badState("rename of unknown channel id %s", id)
	}
	c.Name = newName
	return s.UpsertChannel(c)
}

// RemoveChannel deletes a channel record and its name index entry.
func (s Snapshot) RemoveChannel(id ChannelID) Snapshot {
	out := s.clone()
	if c, ok := out.channelsByID[id]; ok {
		delete(out.channelsByKey, out.ISupport.CaseMapping.Fold(c.Name))
		delete(out.channelsByID, id)
	}
	return out
}

// Join adds a (user, channel) membership with the given status-prefix
// symbols, creating neither side's record (both must already exist).
// Membership is kept symmetric: c.Users[u] and u.Channels[c] agree.
func (s Snapshot) Join(userID UserID, channelID ChannelID, prefix string) (Snapshot, error) {
	u, ok := s.usersByID[userID]
	if !ok {
		return s, badState("join: unknown user id %s", userID)
	}
	c, ok := s.channelsByID[channelID]
	if !ok {
		return s, badState("join: unknown channel id %s", channelID)
	}

	u = u.clone()
	c = c.clone()
	u.Channels[channelID] = prefix
	c.Users[userID] = prefix

	out := s.clone()
	out.usersByID[userID] = u
	out.channelsByID[channelID] = c
	return out, nil
}

// Part removes a (user, channel) membership. If the user has no remaining
// channel memberships and is not self, they are garbage collected. If
// the channel has no remaining members it
// is left in place: channels are not self-garbage-collecting the way users
// are, since the spec only documents GC for users.
func (s Snapshot) Part(userID UserID, channelID ChannelID) Snapshot {
	out := s.clone()

	if u, ok := out.usersByID[userID]; ok {
		u = u.clone()
		delete(u.Channels, channelID)
		out.usersByID[userID] = u

		if len(u.Channels) == 0 && userID != out.Self {
			delete(out.usersByKey, out.ISupport.CaseMapping.Fold(u.Nick))
			delete(out.usersByID, userID)
		}
	}

	if c, ok := out.channelsByID[channelID]; ok {
		c = c.clone()
		delete(c.Users, userID)
		out.channelsByID[channelID] = c
	}

	return out
}

// PartAll removes userID's membership from every channel it belongs to
// (used for QUIT), applying the same GC rule as Part.
func (s Snapshot) PartAll(userID UserID) Snapshot {
	out := s
	u, ok := s.usersByID[userID]
	if !ok {
		return s
	}
	for cid := range u.Channels {
		out = out.Part(userID, cid)
	}
	return out
}

// TryExtractUserFromSource parses a "nick!ident@host" (or bare server name)
// source and returns the matching user record by nick under the active
// case mapping.
func (s Snapshot) TryExtractUserFromSource(source string) (User, bool) {
	nick := source
	if idx := strings.IndexByte(source, '!'); idx != -1 {
		nick = source[:idx]
	}
	return s.UserByNick(nick)
}
