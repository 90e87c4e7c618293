// Package mcpservice holds the server-side catalogue: immutable registries
// for tools, resources and prompts, plus the Server value that bundles them
// with the server's identity.
//
// Registries are built once at startup and reject duplicates:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo"`
//	}
//	tools, err := mcpservice.NewToolRegistry([]mcpservice.Tool{
//	    mcpservice.NewTool("echo", func(ctx context.Context, r *mcpservice.ToolRequest[EchoArgs]) (*mcp.CallToolResult, error) {
//	        return mcpservice.TextResult("you said: " + r.Args().Message), nil
//	    }, mcpservice.WithToolDescription("Echo a message back to the caller")),
//	})
//	if err != nil { ... }
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithTools(tools),
//	)
//
// ToolRegistry.Call validates arguments against the reflected input schema
// before the handler runs, and turns handler errors and panics into error
// results. ResourceRegistry.Read picks the most specific matching pattern.
// PromptRegistry.Get substitutes {name} placeholders.
package mcpservice
