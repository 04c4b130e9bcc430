package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kmattila9/sleuthsync/internal/event"
)

const (
	subjectPrefix     = "sleuth.session"
	heartbeatInterval = 4 * time.Second
	presenceTTL       = 3 * heartbeatInterval
)

// presenceMsg is the heartbeat published on the presence subject. ConnID
// distinguishes connections so a reconnecting player briefly has two
// live records, exactly what the tracker's dedupe expects.
type presenceMsg struct {
	ConnID  string         `json:"conn_id"`
	Record  PresenceRecord `json:"record"`
	Leaving bool           `json:"leaving,omitempty"`
}

// NATS implements Transport over a NATS relay. Events and presence for a
// session live on sleuth.session.<code>.events / .presence.
type NATS struct {
	nc    *nats.Conn
	clock clockwork.Clock
	log   *zap.Logger

	mu           sync.Mutex
	reconnectFns []func()
}

type NATSOption func(*NATS)

func WithClock(c clockwork.Clock) NATSOption {
	return func(t *NATS) { t.clock = c }
}

// DialNATS connects with infinite reconnects; registered OnReconnect
// callbacks fire after every re-established connection.
func DialNATS(url string, log *zap.Logger, opts ...NATSOption) (*NATS, error) {
	t := &NATS{clock: clockwork.NewRealClock(), log: log}
	for _, opt := range opts {
		opt(t)
	}

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("relay disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("relay reconnected", zap.String("url", nc.ConnectedUrl()))
			t.fireReconnect()
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn("relay error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to relay: %w", err)
	}
	t.nc = nc
	return t, nil
}

func (t *NATS) Close() {
	t.nc.Drain() //nolint:errcheck
}

func (t *NATS) OnReconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnectFns = append(t.reconnectFns, fn)
}

func (t *NATS) fireReconnect() {
	t.mu.Lock()
	fns := make([]func(), len(t.reconnectFns))
	copy(fns, t.reconnectFns)
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func eventSubject(code string) string    { return fmt.Sprintf("%s.%s.events", subjectPrefix, code) }
func presenceSubject(code string) string { return fmt.Sprintf("%s.%s.presence", subjectPrefix, code) }

func (t *NATS) Publish(_ context.Context, code string, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return t.nc.Publish(eventSubject(code), data)
}

func (t *NATS) Subscribe(_ context.Context, code string, h Handler) (Subscription, error) {
	sub, err := t.nc.Subscribe(eventSubject(code), func(m *nats.Msg) {
		var env event.Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			t.log.Warn("dropping malformed envelope",
				zap.String("session", code), zap.Error(err))
			return
		}
		h(env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", eventSubject(code), err)
	}
	return natsSub{sub: sub}, nil
}

// SubscribePresence maintains a per-connection table from heartbeats and
// emits join on first sight, leave on explicit departure or TTL expiry,
// and sync on every refresh. A missed heartbeat only leaves the view
// momentarily stale; the next one self-corrects.
func (t *NATS) SubscribePresence(_ context.Context, code string, h PresenceHandler) (Subscription, error) {
	table := &presenceTable{
		clock: t.clock,
		conns: make(map[string]presenceConn),
		emit:  h,
	}

	sub, err := t.nc.Subscribe(presenceSubject(code), func(m *nats.Msg) {
		var pm presenceMsg
		if err := json.Unmarshal(m.Data, &pm); err != nil {
			t.log.Warn("dropping malformed presence record",
				zap.String("session", code), zap.Error(err))
			return
		}
		table.apply(pm)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", presenceSubject(code), err)
	}

	done := make(chan struct{})
	go table.sweep(done)

	h(PresenceEvent{Kind: PresenceSync})

	return natsSub{sub: sub, stop: func() { close(done) }}, nil
}

func (t *NATS) Track(ctx context.Context, code string, rec PresenceRecord) (Subscription, error) {
	connID := uuid.NewString()

	publish := func(leaving bool) {
		rec.UpdatedAt = t.clock.Now().UTC()
		data, err := json.Marshal(presenceMsg{ConnID: connID, Record: rec, Leaving: leaving})
		if err != nil {
			return
		}
		if err := t.nc.Publish(presenceSubject(code), data); err != nil {
			t.log.Warn("presence publish failed", zap.String("session", code), zap.Error(err))
		}
	}

	publish(false)

	done := make(chan struct{})
	go func() {
		ticker := t.clock.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				publish(false)
			}
		}
	}()

	return natsSub{stop: func() {
		close(done)
		publish(true)
	}}, nil
}

type presenceConn struct {
	rec      PresenceRecord
	lastSeen time.Time
}

type presenceTable struct {
	clock clockwork.Clock
	emit  PresenceHandler

	mu    sync.Mutex
	conns map[string]presenceConn
}

func (p *presenceTable) apply(pm presenceMsg) {
	p.mu.Lock()
	_, known := p.conns[pm.ConnID]
	kind := PresenceSync
	if pm.Leaving {
		delete(p.conns, pm.ConnID)
		kind = PresenceLeave
	} else {
		p.conns[pm.ConnID] = presenceConn{rec: pm.Record, lastSeen: p.clock.Now()}
		if !known {
			kind = PresenceJoin
		}
	}
	records := p.records()
	p.mu.Unlock()

	changed := pm.Record
	p.emit(PresenceEvent{Kind: kind, Changed: &changed, Records: records})
}

func (p *presenceTable) sweep(done <-chan struct{}) {
	ticker := p.clock.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			now := p.clock.Now()
			p.mu.Lock()
			var expired []PresenceRecord
			for id, c := range p.conns {
				if now.Sub(c.lastSeen) > presenceTTL {
					expired = append(expired, c.rec)
					delete(p.conns, id)
				}
			}
			records := p.records()
			p.mu.Unlock()

			for i := range expired {
				p.emit(PresenceEvent{Kind: PresenceLeave, Changed: &expired[i], Records: records})
			}
		}
	}
}

func (p *presenceTable) records() []PresenceRecord {
	out := make([]PresenceRecord, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c.rec)
	}
	return out
}

type natsSub struct {
	sub  *nats.Subscription
	stop func()
}

func (s natsSub) Unsubscribe() error {
	if s.stop != nil {
		s.stop()
	}
	if s.sub != nil {
		return s.sub.Unsubscribe()
	}
	return nil
}
