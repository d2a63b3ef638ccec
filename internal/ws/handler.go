package ws

import (
	"context"
	"errors"
	"net/http"

	"github.com/dev-xero/chessio-server/internal/obslog"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Handler upgrades HTTP requests to websocket connections and runs the
// per-connection read loop. Frames from one socket are handled strictly in
// receipt order.
type Handler struct {
	dispatcher *Dispatcher
	origins    []string
}

func NewHandler(dispatcher *Dispatcher, allowedOrigins []string) *Handler {
	return &Handler{dispatcher: dispatcher, origins: allowedOrigins}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(h.origins) > 0 {
		opts.OriginPatterns = h.origins
	} else {
		opts.InsecureSkipVerify = true
	}
	sock, err := websocket.Accept(w, r, opts)
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	c := &conn{id: uuid.NewString(), sock: sock}
	h.dispatcher.Opened(c)
	obslog.L().Info("ws_connect", zap.String("conn_id", c.id))

	ctx := r.Context()
	defer func() {
		c.markClosed()
		// Cleanup runs on a fresh context: the request context is already
		// done by the time the socket drops.
		h.dispatcher.Closed(context.Background(), c)
		_ = sock.Close(websocket.StatusNormalClosure, "")
		obslog.L().Info("ws_disconnect", zap.String("conn_id", c.id))
	}()

	for {
		typ, raw, rerr := sock.Read(ctx)
		if rerr != nil {
			if websocket.CloseStatus(rerr) == -1 && !errors.Is(rerr, context.Canceled) {
				obslog.L().Debug("ws_read_error", zap.String("conn_id", c.id), zap.Error(rerr))
			}
			return
		}
		if typ != websocket.MessageText {
			obslog.L().Warn("ws_non_text_frame", zap.String("conn_id", c.id))
			continue
		}
		h.dispatcher.Dispatch(ctx, c, raw)
	}
}
