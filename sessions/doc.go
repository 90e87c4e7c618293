// Package sessions defines the session record and the Store contract used by
// the engine to track client sessions.
//
// Layers & Roles
//
//	Transport   -> carries the explicit session id on every scoped call
//	sessioncore -> initialize (owner check, capability negotiation), touch debounce
//	Store       -> durability and per-session atomic state transitions
//
// # Lifecycle
//
// A session is created active by initialize. Every scoped call touches it,
// which both checks that it is still active and advances LastActivityAt.
// Close is a compare-and-swap from active to closed: the record is kept so
// that listing and lookups remain possible, but every later scoped call
// fails with ErrSessionInvalid. Ids that were never issued fail with
// ErrSessionNotFound so callers can tell the two cases apart.
//
// # Implementations
//
//	memorystore : in-process map with a lock per session
//	redisstore  : JSON documents plus Lua scripts for touch/close atomicity
//
// Both are exercised by the storetest conformance suite:
//
//	func TestMyStore(t *testing.T) {
//	    storetest.RunStoreTests(t, func(t *testing.T) sessions.Store { return mystore.New() })
//	}
package sessions
