package engine

import "sync"

// typingState tracks which identities are typing in which rooms. State is
// ephemeral and client-driven: a start signal sets it, a stop signal or
// disconnect clears it, and there is no server-side expiry.
type typingState struct {
	mu sync.Mutex
	m  map[RoomKey]map[string]struct{} // room -> typing identities
}

func newTypingState() *typingState {
	return &typingState{m: make(map[RoomKey]map[string]struct{})}
}

// set overwrites the typing flag for (room, identity).
func (t *typingState) set(key RoomKey, identity string, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if active {
		if t.m[key] == nil {
			t.m[key] = make(map[string]struct{})
		}
		t.m[key][identity] = struct{}{}
		return
	}
	delete(t.m[key], identity)
	if len(t.m[key]) == 0 {
		delete(t.m, key)
	}
}

// clearIdentity removes the identity's typing flags from every room, used
// when its last connection goes away.
func (t *typingState) clearIdentity(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, ids := range t.m {
		delete(ids, identity)
		if len(ids) == 0 {
			delete(t.m, key)
		}
	}
}

// active reports whether the identity is currently typing in the room.
func (t *typingState) active(key RoomKey, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.m[key][identity]
	return ok
}
