// Package httpapi exposes an engine.Engine over HTTP.
//
// POST {base} accepts a single JSON-RPC 2.0 message and answers requests
// with a JSON-RPC response; notifications are acknowledged with 202. The
// same methods are also reachable as plain REST routes under {base}, where
// errors are reported with an HTTP status derived from engine.Classify and
// a body of the form {"error":{"code":-32002,"class":"not_found",...}}.
//
// When an auth.Authenticator is configured every route except health
// requires a bearer token, and the token subject is used as the owner of
// sessions opened through initialize.
package httpapi
