// Package redisstore implements sessions.Store on Redis so that several
// server processes can share one session registry.
//
// Layout under the configured key prefix:
//
//	session:{id}  hash: doc (immutable JSON), status, last_us, closed_us
//	index         sorted set of ids scored by a creation sequence
//	active        set of ids whose status is active
//	seq           creation counter
//
// Create, Touch and Close run as Lua scripts so status transitions are
// atomic across processes: of any number of concurrent Close calls exactly
// one observes the active to closed transition.
//
// Example:
//
//	st, err := redisstore.NewFromEnv()
//	if err != nil { ... }
//	defer st.Disconnect()
package redisstore
