package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/climber-engine/mcp-server-go/internal/engine"
	"github.com/climber-engine/mcp-server-go/internal/jsonrpc"
	"github.com/climber-engine/mcp-server-go/internal/logctx"
	"github.com/climber-engine/mcp-server-go/mcp"
)

// DefaultMaxLineBytes bounds one inbound message unless WithMaxLineBytes
// overrides it.
const DefaultMaxLineBytes = 8 << 20

// Handler is a single-connection stdio transport that reads newline-delimited
// JSON-RPC messages from an io.Reader and writes responses to an io.Writer.
// By default, it uses os.Stdin and os.Stdout. The peer is identified by a
// UserProvider, which defaults to a fixed local owner.
//
// The handler is transport-only; every method is served by the engine.
type Handler struct {
	eng          *engine.Engine
	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	userProvider UserProvider
	maxLine      int
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{
		eng:          eng,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.Default(),
		userProvider: StaticUser(DefaultUser),
		maxLine:      DefaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.l = slog.New(logctx.New(h.l.Handler()))
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler.
//
// Requests are handled concurrently and may be answered out of order;
// responses carry the request id. Notifications are handled inline and never
// answered. A line that is not valid JSON is answered with a parse error
// whose id is null.
func (h *Handler) Serve(ctx context.Context) error {
	owner, err := h.userProvider.CurrentUserID()
	if err != nil {
		return fmt.Errorf("resolve stdio user: %w", err)
	}
	ctx = engine.WithOwner(ctx, owner)
	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{Method: "STDIO", RemoteAddr: owner})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := &writeMux{w: bufio.NewWriter(h.w)}
	var wg sync.WaitGroup
	defer wg.Wait()

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 0, min(64*1024, h.maxLine)), h.maxLine)
		for sc.Scan() {
			line := bytes.Clone(sc.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	h.l.InfoContext(ctx, "stdio.serve.start", slog.String("owner", owner))
	for {
		select {
		case <-ctx.Done():
			h.l.InfoContext(ctx, "stdio.serve.stop", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()
		case err := <-scanErr:
			if err != nil {
				h.l.ErrorContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
				return fmt.Errorf("read stdio: %w", err)
			}
			h.l.InfoContext(ctx, "stdio.serve.eof")
			return nil
		case line := <-lines:
			h.handleLine(ctx, line, out, &wg)
		}
	}
}

func (h *Handler) handleLine(ctx context.Context, line []byte, out *writeMux, wg *sync.WaitGroup) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if !json.Valid(line) {
		h.l.InfoContext(ctx, "stdio.parse.fail")
		h.write(ctx, out, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "parse error", nil))
		return
	}
	if line[0] == '[' {
		h.write(ctx, out, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "batch requests are not supported", nil))
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		h.l.InfoContext(ctx, "stdio.message.invalid", slog.String("err", err.Error()))
		h.write(ctx, out, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "invalid request", nil))
		return
	}

	switch msg.Type() {
	case jsonrpc.KindNotification:
		h.eng.HandleNotification(ctx, mcp.Notification{Method: msg.Method, Params: msg.Params})
	case jsonrpc.KindRequest:
		req := msg.AsRequest()
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.write(ctx, out, h.eng.HandleRequest(ctx, req))
		}()
	default:
		h.l.DebugContext(ctx, "stdio.response.ignored", slog.String("id", msg.ID.String()))
	}
}

func (h *Handler) write(ctx context.Context, out *writeMux, resp *jsonrpc.Response) {
	if resp == nil {
		return
	}
	if err := out.writeJSONRPC(resp); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		h.l.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}

// writeMux serializes whole messages onto the output stream.
type writeMux struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (m *writeMux) writeJSONRPC(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.w.Write(append(b, '\n')); err != nil {
		return err
	}
	return m.w.Flush()
}
