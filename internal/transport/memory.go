package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kmattila9/sleuthsync/internal/event"
)

// MemoryBus is an in-process Transport used by tests and single-machine
// play. Delivery is synchronous in publish order, which preserves the
// per-sender ordering guarantee of the real relay. Tests exercise
// duplicate delivery by publishing the same envelope twice.
type MemoryBus struct {
	mu       sync.Mutex
	sessions map[string]*memSession
}

type memSession struct {
	subs     map[string]Handler
	presSubs map[string]PresenceHandler
	tracks   map[string]PresenceRecord // keyed by connection id
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{sessions: make(map[string]*memSession)}
}

func (b *MemoryBus) session(code string) *memSession {
	s := b.sessions[code]
	if s == nil {
		s = &memSession{
			subs:     make(map[string]Handler),
			presSubs: make(map[string]PresenceHandler),
			tracks:   make(map[string]PresenceRecord),
		}
		b.sessions[code] = s
	}
	return s
}

func (b *MemoryBus) Publish(_ context.Context, code string, env event.Envelope) error {
	b.mu.Lock()
	subs := make([]Handler, 0, 4)
	for _, h := range b.session(code).subs {
		subs = append(subs, h)
	}
	b.mu.Unlock()

	for _, h := range subs {
		h(env)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, code string, h Handler) (Subscription, error) {
	id := uuid.NewString()
	b.mu.Lock()
	b.session(code).subs[id] = h
	b.mu.Unlock()

	return memSub(func() {
		b.mu.Lock()
		delete(b.session(code).subs, id)
		b.mu.Unlock()
	}), nil
}

func (b *MemoryBus) SubscribePresence(_ context.Context, code string, h PresenceHandler) (Subscription, error) {
	id := uuid.NewString()
	b.mu.Lock()
	s := b.session(code)
	s.presSubs[id] = h
	records := s.records()
	b.mu.Unlock()

	h(PresenceEvent{Kind: PresenceSync, Records: records})

	return memSub(func() {
		b.mu.Lock()
		delete(b.session(code).presSubs, id)
		b.mu.Unlock()
	}), nil
}

func (b *MemoryBus) Track(_ context.Context, code string, rec PresenceRecord) (Subscription, error) {
	connID := uuid.NewString()
	b.mu.Lock()
	s := b.session(code)
	s.tracks[connID] = rec
	b.mu.Unlock()

	b.firePresence(code, PresenceJoin, &rec)

	return memSub(func() {
		b.mu.Lock()
		left := b.session(code).tracks[connID]
		delete(b.session(code).tracks, connID)
		b.mu.Unlock()
		b.firePresence(code, PresenceLeave, &left)
	}), nil
}

func (b *MemoryBus) OnReconnect(func()) {}

func (b *MemoryBus) firePresence(code string, kind PresenceKind, changed *PresenceRecord) {
	b.mu.Lock()
	s := b.session(code)
	records := s.records()
	handlers := make([]PresenceHandler, 0, len(s.presSubs))
	for _, h := range s.presSubs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	ev := PresenceEvent{Kind: kind, Changed: changed, Records: records}
	for _, h := range handlers {
		h(ev)
	}
}

func (s *memSession) records() []PresenceRecord {
	out := make([]PresenceRecord, 0, len(s.tracks))
	for _, r := range s.tracks {
		out = append(out, r)
	}
	return out
}

type memSub func()

func (f memSub) Unsubscribe() error {
	f()
	return nil
}
