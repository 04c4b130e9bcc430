// Package hub is the per-process registry of live session replicas. One
// replica exists per (session code, player); every websocket the same
// player opens attaches to the same replica.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/kmattila9/sleuthsync/internal/content"
	"github.com/kmattila9/sleuthsync/internal/recovery"
	"github.com/kmattila9/sleuthsync/internal/session"
	"github.com/kmattila9/sleuthsync/internal/transport"
)

type HubMsg interface{ isHubMsg() }

type OpenReplica struct {
	Code       string
	CaseCode   string
	Locale     string
	PlayerID   string
	PlayerName string
	Color      string
	HostID     string
	Reply      chan OpenReply
}

type OpenReply struct {
	Replica *session.Replica
	Err     error
}

type GetReplica struct {
	Code     string
	PlayerID string
	Reply    chan *session.Replica
}

type ReleaseReplica struct {
	Code     string
	PlayerID string
}

type ShutdownHub struct{}

func (OpenReplica) isHubMsg()    {}
func (GetReplica) isHubMsg()     {}
func (ReleaseReplica) isHubMsg() {}
func (ShutdownHub) isHubMsg()    {}

type Deps struct {
	Content   *content.Loader
	Transport transport.Transport
	Recovery  *recovery.Store
	Log       *zap.Logger
}

type Hub struct {
	inbox    chan HubMsg
	replicas map[string]*session.Replica
	docs     map[string]*content.Document
	deps     Deps
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, deps Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		replicas: make(map[string]*session.Replica),
		docs:     make(map[string]*content.Document),
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func key(code, playerID string) string { return code + "/" + playerID }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case OpenReplica:
				k := key(msg.Code, msg.PlayerID)
				if r := h.replicas[k]; r != nil && alive(r) {
					msg.Reply <- OpenReply{Replica: r}
					break
				}
				// A replica that kicked or abandoned itself stays in the
				// map until the next open; replace it.
				delete(h.replicas, k)

				doc, err := h.loadDoc(msg.CaseCode, msg.Locale)
				if err != nil {
					msg.Reply <- OpenReply{Err: err}
					break
				}

				r, err := session.NewReplica(h.ctx, session.Config{
					Code:       msg.Code,
					Doc:        doc,
					PlayerID:   msg.PlayerID,
					PlayerName: msg.PlayerName,
					Color:      msg.Color,
					HostID:     msg.HostID,
					Transport:  h.deps.Transport,
					Recovery:   h.deps.Recovery,
					Log:        h.deps.Log,
				})
				if err != nil {
					msg.Reply <- OpenReply{Err: err}
					break
				}
				h.replicas[k] = r
				msg.Reply <- OpenReply{Replica: r}

			case GetReplica:
				msg.Reply <- h.replicas[key(msg.Code, msg.PlayerID)] // may be nil

			case ReleaseReplica:
				k := key(msg.Code, msg.PlayerID)
				if r := h.replicas[k]; r != nil {
					stopReplica(r)
					delete(h.replicas, k)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// loadDoc caches case documents: they are immutable load-once inputs.
func (h *Hub) loadDoc(caseCode, locale string) (*content.Document, error) {
	k := caseCode + "/" + locale
	if doc := h.docs[k]; doc != nil {
		return doc, nil
	}
	doc, err := h.deps.Content.Load(h.ctx, caseCode, locale)
	if err != nil {
		return nil, err
	}
	h.docs[k] = doc
	return doc, nil
}

func (h *Hub) shutdown() {
	for k, r := range h.replicas {
		stopReplica(r)
		delete(h.replicas, k)
	}
	h.cancel()
}

func alive(r *session.Replica) bool {
	select {
	case <-r.Done():
		return false
	default:
		return true
	}
}

// stopReplica never blocks on a loop that already exited.
func stopReplica(r *session.Replica) {
	select {
	case r.Inbox() <- session.Shutdown{}:
	case <-r.Done():
	}
}
