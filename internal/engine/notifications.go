package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/climber-engine/mcp-server-go/internal/jsonrpc"
	"github.com/climber-engine/mcp-server-go/mcp"
)

// HandleNotification processes a one-way client message. It never fails;
// malformed or unknown notifications are logged and dropped. The session is
// taken from n.SessionID or, failing that, from a sessionId in the params.
// A notification naming a session counts as activity on it and is dropped
// when the session is not active or belongs to another owner.
func (e *Engine) HandleNotification(ctx context.Context, n mcp.Notification) {
	if n.SessionID == "" {
		n.SessionID = paramsSession(n.Params)
	}
	log := e.log.With(slog.String("method", n.Method))
	if n.SessionID != "" {
		log = log.With(slog.String("session_id", n.SessionID))
		var err error
		if _, ctx, err = e.touch(ctx, n.SessionID); err != nil {
			log.InfoContext(ctx, "engine.handle_notification.rejected", slog.String("err", err.Error()))
			return
		}
	}

	switch mcp.Method(n.Method) {
	case mcp.InitializedNotificationMethod:
		log.InfoContext(ctx, "engine.session.initialized")

	case mcp.ProgressNotificationMethod:
		var p mcp.ProgressNotificationParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			log.WarnContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return
		}
		log.InfoContext(ctx, "engine.progress",
			slog.String("token", fmt.Sprint(p.ProgressToken)),
			slog.Float64("progress", p.Progress),
			slog.Float64("total", p.Total),
		)

	case mcp.CancelledNotificationMethod:
		var p struct {
			RequestID *jsonrpc.RequestID `json:"requestId"`
			Reason    string             `json:"reason"`
		}
		if err := json.Unmarshal(n.Params, &p); err != nil || p.RequestID.IsNil() {
			log.WarnContext(ctx, "engine.handle_notification.invalid", slog.String("err", "missing requestId"))
			return
		}
		id := p.RequestID.String()
		if n.SessionID == "" {
			log.WarnContext(ctx, "engine.request.cancel_unscoped", slog.String("request_id", id))
			return
		}
		if e.cancelInFlight(flightKey{session: n.SessionID, id: id}, p.Reason) > 0 {
			log.InfoContext(ctx, "engine.request.cancelled", slog.String("request_id", id), slog.String("reason", p.Reason))
		} else {
			log.DebugContext(ctx, "engine.request.cancel_miss", slog.String("request_id", id))
		}

	default:
		log.DebugContext(ctx, "engine.handle_notification.ignored")
	}
}
