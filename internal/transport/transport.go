// Package transport adapts the session pub/sub relay. The relay is
// at-least-once and ordered per sender; nothing here adds global
// ordering. It also carries ephemeral presence records: created on
// track, destroyed on leave or heartbeat expiry, never stored durably.
package transport

import (
	"context"
	"time"

	"github.com/kmattila9/sleuthsync/internal/event"
)

// PresenceRecord is the wire shape of one connection's presence.
type PresenceRecord struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Color      string    `json:"color"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type PresenceKind string

const (
	PresenceSync  PresenceKind = "sync"
	PresenceJoin  PresenceKind = "join"
	PresenceLeave PresenceKind = "leave"
)

// PresenceEvent carries the transport's full per-connection view on every
// callback. A player reconnecting rapidly may appear in Records more than
// once; consumers flatten and dedupe.
type PresenceEvent struct {
	Kind    PresenceKind
	Changed *PresenceRecord
	Records []PresenceRecord
}

type Handler func(env event.Envelope)

type PresenceHandler func(ev PresenceEvent)

type Subscription interface {
	Unsubscribe() error
}

// Transport is the session-scoped relay. Publish is fire-and-forget and
// must not block the caller's event loop.
type Transport interface {
	Publish(ctx context.Context, sessionCode string, env event.Envelope) error
	Subscribe(ctx context.Context, sessionCode string, h Handler) (Subscription, error)
	SubscribePresence(ctx context.Context, sessionCode string, h PresenceHandler) (Subscription, error)

	// Track announces the local participant and keeps the record alive
	// until the returned subscription is closed.
	Track(ctx context.Context, sessionCode string, rec PresenceRecord) (Subscription, error)

	// OnReconnect registers a callback fired after the underlying
	// connection is re-established. Consumers re-track presence and
	// request a resync from there.
	OnReconnect(fn func())
}
