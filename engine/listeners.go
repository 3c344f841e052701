package engine

import (
	"github.com/corywalker/ircframe/message"
	"github.com/corywalker/ircframe/state"
)

// ListenerFunc observes one inbound command against the state snapshot
// current just before it was applied. Listeners may read the snapshot,
// publish updates via Network.UpdateState, enqueue sends through
// Network.Send, or emit nothing at all. They are expected to
// return promptly; long-running work is discouraged.
type ListenerFunc func(n *Network, snap state.Snapshot, cmd *message.Command) error

type registration struct {
	verbs map[string]struct{}
	fn    ListenerFunc
}

// Registry holds the ordered set of per-command listeners a Network
// dispatches every inbound command to, fanning out in registration order
// and awaiting each in turn.
type Registry struct {
	regs []*registration
}

// Register adds fn, invoked for every inbound command whose verb is in
// verbs (numerics included verbatim, e.g. "001", "353").
func (r *Registry) Register(verbs []string, fn ListenerFunc) {
	set := make(map[string]struct{}, len(verbs))
	for _, v := range verbs {
		set[v] = struct{}{}
	}
	r.regs = append(r.regs, &registration{verbs: set, fn: fn})
}

// dispatch runs every matching listener in registration order. A
// *state.BadStateError propagates to the caller immediately, aborting the
// rest of dispatch for this command (it will in turn abort the message
// loop); any other listener error is returned via the loggedErrs
// slice for the caller to log, not to abort on.
func (r *Registry) dispatch(n *Network, snap state.Snapshot, cmd *message.Command) (loggedErrs []error, fatal error) {
	for _, reg := range r.regs {
		if _, ok := reg.verbs[cmd.Verb]; !ok {
			continue
		}
		if err := reg.fn(n, snap, cmd); err != nil {
			if bad, ok := err.(*state.BadStateError); ok {
				return loggedErrs, bad
			}
			loggedErrs = append(loggedErrs, err)
		}
		// Listeners that published a new snapshot should see it reflected
		// for subsequent listeners within the same dispatch: later listeners
		// commonly depend on earlier ones, e.g. NAMES upserting a user
		// before a mode listener prefixes them.
		snap = n.State()
	}
	return loggedErrs, nil
}
