// Package engine is the transport-independent core of the server. It checks
// session validity before every scoped operation, routes the call to the
// tool, resource or prompt registry or to the model backend, and maps the
// resulting errors onto JSON-RPC codes and coarse classes.
//
// Both the HTTP and the stdio transports drive the same Engine: HTTP through
// the typed methods and HandleRequest, stdio through HandleRequest only.
//
// Calls against one session are not serialized. Only the session status
// check and the activity update are atomic, so two tool calls in the same
// session may run and complete in any order.
package engine
