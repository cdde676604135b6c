package syncedstore

// State describes the lifecycle of the synced store.
//
// The transitions are:
//
//	StateUninitialized → StateInitializing   on Initialize (with a key store)
//	StateInitializing  → StateReady          key obtained, blob loaded or absent
//	StateInitializing  → StateDegradedNoKey  user declined authentication
//
// StateReady is terminal for the process lifetime; a protection-mode rotation
// keeps the store Ready with a new key. In StateDegradedNoKey the in-memory
// map has been cleared and no key is active, so a caller who declined to
// authenticate is never shown stale plaintext; the state persists until a
// later Initialize call succeeds.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDegradedNoKey
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDegradedNoKey:
		return "degraded-no-key"
	default:
		return "unknown"
	}
}
