package state

import "github.com/google/uuid"

// UserID opaquely identifies a user record across snapshots. It is stable
// across nick changes but not across a user leaving and rejoining under a
// reused nick (a genuinely new record gets a new id).
type UserID uuid.UUID

// NewUserID allocates a fresh opaque user id.
func NewUserID() UserID { return UserID(uuid.New()) }

func (id UserID) String() string { return uuid.UUID(id).String() }

// ChannelID opaquely identifies a channel record across snapshots.
type ChannelID uuid.UUID

// NewChannelID allocates a fresh opaque channel id.
func NewChannelID() ChannelID { return ChannelID(uuid.New()) }

func (id ChannelID) String() string { return uuid.UUID(id).String() }
