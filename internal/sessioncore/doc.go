// Package sessioncore implements the session lifecycle shared by every
// transport: owner resolution and capability negotiation at initialize,
// the active check performed before each scoped call, and the single
// active to closed transition.
package sessioncore
