// Package stdio implements a single-connection transport over stdin/stdout.
// It is intended for running the server as a subprocess of an editor or
// agent, where spawning a child process and piping JSON is simpler than
// running an HTTP server.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : UserProvider (static owner by default)
//	Sessions         : whatever store the engine was built with
//	Transport        : newline-delimited JSON-RPC 2.0
//
// Example:
//
//	h := stdio.NewHandler(eng, stdio.WithUserProvider(stdio.StaticUser("ada")))
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
package stdio
