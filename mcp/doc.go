// Package mcp contains protocol data types and constants shared across
// transports and the engine. It mirrors the wire representation while keeping
// the surface Go-friendly (exported structs with json tags, string constants
// for method names and enumerations).
//
// The package is free of transport logic: the HTTP and stdio transports
// import these types but implement their own framing, authentication and
// error mapping. Higher-level packages (mcpservice, internal/engine) build
// responses using these concrete types and hand them back for serialization.
//
// # Method Names
//
// Logical methods are enumerated as Method constants (e.g. ToolsCallMethod).
// Session-scoped request types carry the session id explicitly in a
// sessionId field; nothing is inferred from cookies or connection state.
//
// # Capabilities
//
// Capabilities is a closed struct of four booleans. The server computes its
// own value from what is registered; a client may only narrow it during
// initialize through RequestedCapabilities:
//
//	no := false
//	caps := server.Intersect(&mcp.RequestedCapabilities{Sampling: &no})
//
// # Compatibility
//
// ProtocolVersion is the revision announced in initialize and capabilities
// responses.
package mcp
