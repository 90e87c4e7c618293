package mcpservice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/climber-engine/mcp-server-go/mcp"
	"github.com/climber-engine/mcp-server-go/sessions"
	"github.com/yosida95/uritemplate/v3"
)

var (
	// ErrResourceNotFound is returned when no registered pattern matches a URI.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrResourceUnavailable wraps a resolver failure for a matched URI.
	ErrResourceUnavailable = errors.New("resource unavailable")
)

// ResourceRequest is handed to a resolver for a matched URI.
type ResourceRequest struct {
	URI     string
	Vars    map[string]string
	Session *sessions.Session
}

// ResourceBody is what a resolver produces. Exactly one of Text or Blob is
// expected; MIMEType overrides the resource's declared type when set.
type ResourceBody struct {
	Text     string
	Blob     []byte
	MIMEType string
}

// ResourceResolver produces the body of a resource.
type ResourceResolver func(ctx context.Context, req ResourceRequest) (ResourceBody, error)

// Resource registers a URI pattern. Pattern is either a literal URI or an
// RFC 6570 template such as "climber://user/{section}".
type Resource struct {
	Pattern     string
	Name        string
	Description string
	MIMEType    string
	Resolver    ResourceResolver
}

// TextBody is a helper for text resolvers.
func TextBody(s string) ResourceBody { return ResourceBody{Text: s} }

// JSONBody renders v as indented JSON text.
func JSONBody(v any) (ResourceBody, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ResourceBody{}, err
	}
	return ResourceBody{Text: string(b), MIMEType: "application/json"}, nil
}

type compiledResource struct {
	Resource
	tmpl    *uritemplate.Template
	scheme  string
	prefix  string // literal text before the first expression
	nvars   int
	shape   string
	literal bool
}

// ResourceRegistry is an immutable set of resources matched by specificity.
type ResourceRegistry struct {
	resources []compiledResource
}

var exprPattern = regexp.MustCompile(`\{[^}]*\}`)

// NewResourceRegistry compiles the given resources. Patterns must parse,
// carry a scheme and a resolver, and no two may share the same shape (equal
// once variable names are ignored).
func NewResourceRegistry(resources ...Resource) (*ResourceRegistry, error) {
	r := &ResourceRegistry{resources: make([]compiledResource, 0, len(resources))}
	shapes := make(map[string]string, len(resources))
	for _, res := range resources {
		if res.Resolver == nil {
			return nil, fmt.Errorf("resource registry: %q has no resolver", res.Pattern)
		}
		tmpl, err := uritemplate.New(res.Pattern)
		if err != nil {
			return nil, fmt.Errorf("resource registry: %q: %w", res.Pattern, err)
		}
		scheme, _, ok := strings.Cut(res.Pattern, ":")
		if !ok || scheme == "" || strings.ContainsAny(scheme, "{}/") {
			return nil, fmt.Errorf("resource registry: %q has no literal scheme", res.Pattern)
		}
		shape := exprPattern.ReplaceAllString(res.Pattern, "{}")
		if prev, dup := shapes[shape]; dup {
			return nil, fmt.Errorf("resource registry: %q conflicts with %q", res.Pattern, prev)
		}
		shapes[shape] = res.Pattern

		prefix := res.Pattern
		if i := strings.IndexByte(prefix, '{'); i >= 0 {
			prefix = prefix[:i]
		}
		nvars := len(tmpl.Varnames())
		r.resources = append(r.resources, compiledResource{
			Resource: res,
			tmpl:     tmpl,
			scheme:   strings.ToLower(scheme),
			prefix:   prefix,
			nvars:    nvars,
			shape:    shape,
			literal:  nvars == 0,
		})
	}
	return r, nil
}

// Len reports the number of registered patterns.
func (r *ResourceRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.resources)
}

// List returns the literal resources in registration order.
func (r *ResourceRegistry) List() []mcp.Resource {
	out := []mcp.Resource{}
	if r == nil {
		return out
	}
	for _, c := range r.resources {
		if !c.literal {
			continue
		}
		out = append(out, mcp.Resource{URI: c.Pattern, Name: c.Name, Description: c.Description, MimeType: c.MIMEType})
	}
	return out
}

// ListTemplates returns the templated resources in registration order.
func (r *ResourceRegistry) ListTemplates() []mcp.ResourceTemplate {
	var out []mcp.ResourceTemplate
	if r == nil {
		return out
	}
	for _, c := range r.resources {
		if c.literal {
			continue
		}
		out = append(out, mcp.ResourceTemplate{URITemplate: c.Pattern, Name: c.Name, Description: c.Description, MimeType: c.MIMEType})
	}
	return out
}

// URIs returns every literal resource URI, used for completion suggestions.
func (r *ResourceRegistry) URIs() []string {
	var out []string
	for _, res := range r.List() {
		out = append(out, res.URI)
	}
	return out
}

// match returns the most specific resource for uri: fewest template
// variables first, then the longest literal prefix.
func (r *ResourceRegistry) match(uri string) (*compiledResource, map[string]string, bool) {
	if r == nil {
		return nil, nil, false
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return nil, nil, false
	}

	var (
		best     *compiledResource
		bestVars map[string]string
	)
	for i := range r.resources {
		c := &r.resources[i]
		if c.scheme != u.Scheme {
			continue
		}
		var vars map[string]string
		if c.literal {
			if c.Pattern != uri {
				continue
			}
		} else {
			values := c.tmpl.Match(uri)
			if values == nil {
				continue
			}
			vars = make(map[string]string, len(values))
			for name, v := range values {
				vars[name] = v.String()
			}
		}
		if best == nil || c.nvars < best.nvars || (c.nvars == best.nvars && len(c.prefix) > len(best.prefix)) {
			best, bestVars = c, vars
		}
	}
	return best, bestVars, best != nil
}

// Read resolves uri for sess. No match yields ErrResourceNotFound; a
// resolver failure yields ErrResourceUnavailable wrapping the cause.
func (r *ResourceRegistry) Read(ctx context.Context, sess *sessions.Session, uri string) (mcp.ResourceContents, error) {
	c, vars, ok := r.match(uri)
	if !ok {
		return mcp.ResourceContents{}, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
	}
	if vars == nil {
		vars = map[string]string{}
	}
	body, err := c.Resolver(ctx, ResourceRequest{URI: uri, Vars: vars, Session: sess})
	if err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return mcp.ResourceContents{}, err
		}
		return mcp.ResourceContents{}, fmt.Errorf("%w: %s: %w", ErrResourceUnavailable, uri, err)
	}

	out := mcp.ResourceContents{URI: uri, MimeType: c.MIMEType}
	if body.MIMEType != "" {
		out.MimeType = body.MIMEType
	}
	if body.Blob != nil {
		out.Blob = base64.StdEncoding.EncodeToString(body.Blob)
	} else {
		out.Text = body.Text
	}
	return out, nil
}
