// Package presence maintains the live roster of a session from transport
// presence callbacks. The roster is a read-mostly value recomputed in
// full on every callback; a missing or late callback only leaves it
// momentarily stale and the next sync self-corrects. The tracker emits no
// errors.
package presence

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kmattila9/sleuthsync/internal/game"
	"github.com/kmattila9/sleuthsync/internal/transport"
)

type Tracker struct {
	tr   transport.Transport
	code string
	self transport.PresenceRecord
	log  *zap.Logger

	mu       sync.RWMutex
	roster   []game.Participant
	joinedAt map[string]int64 // playerID -> first-seen order, for stable roster order
	seq      int64

	sub    transport.Subscription
	track  transport.Subscription
	onMove func(roster []game.Participant)
}

// New builds a tracker for the local participant identified by self.
// onChange, if non-nil, is invoked with the fresh roster after every
// recompute; it runs on the transport callback goroutine.
func New(tr transport.Transport, code string, self transport.PresenceRecord, log *zap.Logger, onChange func([]game.Participant)) *Tracker {
	return &Tracker{
		tr:       tr,
		code:     code,
		self:     self,
		log:      log,
		joinedAt: make(map[string]int64),
		onMove:   onChange,
	}
}

// Start subscribes to presence callbacks and announces the local
// participant exactly once. It also re-announces after every transport
// reconnect; without that the local player is invisible to peers.
func (t *Tracker) Start(ctx context.Context) error {
	sub, err := t.tr.SubscribePresence(ctx, t.code, t.recompute)
	if err != nil {
		return err
	}
	t.sub = sub

	track, err := t.tr.Track(ctx, t.code, t.self)
	if err != nil {
		sub.Unsubscribe() //nolint:errcheck
		return err
	}
	t.track = track

	t.tr.OnReconnect(func() {
		t.log.Info("re-announcing presence after reconnect",
			zap.String("session", t.code), zap.String("player", t.self.PlayerID))
		if t.track != nil {
			t.track.Unsubscribe() //nolint:errcheck
		}
		track, err := t.tr.Track(ctx, t.code, t.self)
		if err != nil {
			t.log.Warn("presence re-track failed", zap.Error(err))
			return
		}
		t.track = track
	})
	return nil
}

func (t *Tracker) Stop() {
	if t.track != nil {
		t.track.Unsubscribe() //nolint:errcheck
	}
	if t.sub != nil {
		t.sub.Unsubscribe() //nolint:errcheck
	}
}

// Roster returns the current deduped roster.
func (t *Tracker) Roster() []game.Participant {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]game.Participant, len(t.roster))
	copy(out, t.roster)
	return out
}

// recompute flattens all per-connection records into the roster. A
// participant reconnecting rapidly may have several records; dedupe keeps
// the one with the most recent UpdatedAt.
func (t *Tracker) recompute(ev transport.PresenceEvent) {
	t.mu.Lock()
	latest := make(map[string]transport.PresenceRecord, len(ev.Records))
	for _, rec := range ev.Records {
		if rec.PlayerID == "" {
			continue
		}
		prev, ok := latest[rec.PlayerID]
		if !ok || rec.UpdatedAt.After(prev.UpdatedAt) {
			latest[rec.PlayerID] = rec
		}
	}

	roster := make([]game.Participant, 0, len(latest))
	for id, rec := range latest {
		if _, seen := t.joinedAt[id]; !seen {
			t.seq++
			t.joinedAt[id] = t.seq
		}
		roster = append(roster, game.Participant{
			PlayerID:   rec.PlayerID,
			PlayerName: rec.PlayerName,
			Color:      rec.Color,
			JoinedAt:   rec.UpdatedAt,
		})
	}
	sort.Slice(roster, func(i, j int) bool {
		return t.joinedAt[roster[i].PlayerID] < t.joinedAt[roster[j].PlayerID]
	})
	t.roster = roster
	t.mu.Unlock()

	if t.onMove != nil {
		t.onMove(roster)
	}
}
