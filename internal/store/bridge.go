package store

import (
	"context"
	"encoding/json"

	"github.com/dev-xero/chessio-server/internal/obslog"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventsChannel is the well-known pub/sub channel every process subscribes
// to on start. It is what keeps two processes, each holding one half of a
// game's sockets, consistent.
const EventsChannel = "ws:events"

// Scope selects which local room an envelope is rebroadcast into.
type Scope string

const (
	ScopeGame Scope = "game"
	ScopeUser Scope = "user"
	ScopeAll  Scope = "all"
)

// Envelope is the cross-process event frame. Origin carries the publishing
// process's instance ID so a process can drop its own echoes: local sockets
// already received the payload directly.
type Envelope struct {
	Origin  string          `json:"origin"`
	Scope   Scope           `json:"scope"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// LocalFanout is the registry-shaped sink the bridge rebroadcasts into.
type LocalFanout interface {
	SendToGame(ctx context.Context, gameID string, payload []byte)
	SendToUser(ctx context.Context, userID string, payload []byte)
	BroadcastAll(ctx context.Context, payload []byte)
}

// Bridge connects the store's pub/sub channel to the local connection
// registry.
type Bridge struct {
	gw         *Gateway
	local      LocalFanout
	instanceID string
}

func NewBridge(gw *Gateway, local LocalFanout) *Bridge {
	return &Bridge{gw: gw, local: local, instanceID: uuid.NewString()}
}

// InstanceID identifies this process in published envelopes.
func (b *Bridge) InstanceID() string { return b.instanceID }

// Start subscribes to the events channel and rebroadcasts inbound envelopes
// until ctx is cancelled. It returns once the subscription is confirmed, so
// callers can order startup deterministically.
func (b *Bridge) Start(ctx context.Context) error {
	ps := b.gw.subscribe(ctx, EventsChannel)
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	go func() {
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handle(ctx, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (b *Bridge) handle(ctx context.Context, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		obslog.L().Warn("bridge_bad_envelope", zap.Error(err))
		return
	}
	if env.Origin == b.instanceID {
		return
	}
	switch env.Scope {
	case ScopeGame:
		b.local.SendToGame(ctx, env.Target, env.Payload)
	case ScopeUser:
		b.local.SendToUser(ctx, env.Target, env.Payload)
	case ScopeAll:
		b.local.BroadcastAll(ctx, env.Payload)
	default:
		obslog.L().Warn("bridge_unknown_scope", zap.String("scope", string(env.Scope)))
	}
}

// PublishGame forwards payload to the given game room on sibling processes.
func (b *Bridge) PublishGame(ctx context.Context, gameID string, payload []byte) error {
	return b.publish(ctx, ScopeGame, gameID, payload)
}

// PublishUser forwards payload to the given user's connections on sibling
// processes.
func (b *Bridge) PublishUser(ctx context.Context, userID string, payload []byte) error {
	return b.publish(ctx, ScopeUser, userID, payload)
}

func (b *Bridge) publish(ctx context.Context, scope Scope, target string, payload []byte) error {
	raw, err := json.Marshal(Envelope{
		Origin:  b.instanceID,
		Scope:   scope,
		Target:  target,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	return b.gw.Publish(ctx, EventsChannel, raw)
}
