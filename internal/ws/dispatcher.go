package ws

import (
	"context"
	"encoding/json"

	"github.com/dev-xero/chessio-server/internal/game"
	"github.com/dev-xero/chessio-server/internal/obslog"
	"github.com/dev-xero/chessio-server/internal/registry"
	"github.com/dev-xero/chessio-server/internal/session"
	"github.com/dev-xero/chessio-server/internal/wire"
	"go.uber.org/zap"
)

// MoveRelay is the slice of the game service the dispatcher drives.
type MoveRelay interface {
	SubmitMove(ctx context.Context, conn registry.Conn, cmd wire.MoveCommand) (*game.State, error)
}

// Dispatcher decodes inbound frames into typed commands and routes them.
// Per-message errors become a private error event; malformed or unknown
// frames are logged and dropped. Nothing here ever closes the socket.
type Dispatcher struct {
	reg   *registry.Registry
	ready *session.Handshake
	moves MoveRelay
}

func NewDispatcher(reg *registry.Registry, ready *session.Handshake, moves MoveRelay) *Dispatcher {
	return &Dispatcher{reg: reg, ready: ready, moves: moves}
}

// Dispatch handles one inbound frame from conn.
func (d *Dispatcher) Dispatch(ctx context.Context, conn registry.Conn, raw []byte) {
	var cmd wire.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		obslog.L().Warn("ws_malformed_frame", zap.String("conn_id", conn.ID()), zap.Error(err))
		return
	}

	var err error
	switch cmd.Type {
	case wire.CmdAuth:
		if cmd.UserID == "" {
			obslog.L().Warn("ws_auth_missing_user", zap.String("conn_id", conn.ID()))
			return
		}
		d.reg.Bind(conn, cmd.UserID)
	case wire.CmdJoinGame:
		d.reg.JoinGame(conn, cmd.GameID)
	case wire.CmdPlayerReady:
		err = d.ready.PlayerReady(ctx, conn, cmd.GameID)
	case wire.CmdMove:
		var mc wire.MoveCommand
		if uerr := json.Unmarshal(cmd.Data, &mc); uerr != nil {
			obslog.L().Warn("ws_malformed_move", zap.String("conn_id", conn.ID()), zap.Error(uerr))
			return
		}
		_, err = d.moves.SubmitMove(ctx, conn, mc)
	default:
		obslog.L().Warn("ws_unknown_command", zap.String("conn_id", conn.ID()), zap.String("type", cmd.Type))
		return
	}

	if err != nil {
		d.sendError(ctx, conn, err)
	}
}

// Opened records a freshly accepted connection so process-wide broadcasts
// reach it before it authenticates.
func (d *Dispatcher) Opened(conn registry.Conn) {
	d.reg.Register(conn)
}

// Closed performs the full cleanup for a closed connection, whatever
// commands were in flight: registry removal plus readiness withdrawal.
// The rooms the connection had joined are told about the drop even when the
// game already started and no ready set remains.
func (d *Dispatcher) Closed(ctx context.Context, conn registry.Conn) {
	userID, games := d.reg.Unbind(conn)
	d.ready.Disconnect(ctx, userID, games)
}

func (d *Dispatcher) sendError(ctx context.Context, conn registry.Conn, err error) {
	evt, merr := json.Marshal(wire.ErrorEvent{Type: wire.EventError, Message: err.Error()})
	if merr != nil {
		return
	}
	if serr := conn.Send(ctx, evt); serr != nil {
		obslog.L().Debug("ws_error_send_skip", zap.String("conn_id", conn.ID()), zap.Error(serr))
	}
}
