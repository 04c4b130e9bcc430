package session

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kmattila9/sleuthsync/internal/content"
	"github.com/kmattila9/sleuthsync/internal/event"
	"github.com/kmattila9/sleuthsync/internal/game"
	"github.com/kmattila9/sleuthsync/internal/presence"
	"github.com/kmattila9/sleuthsync/internal/recovery"
	"github.com/kmattila9/sleuthsync/internal/transport"
)

const (
	saveInterval       = 5 * time.Second
	resyncDebounce     = time.Second
	hostAbsenceTimeout = 2 * time.Minute
)

type Membership string

const (
	MembershipHost    Membership = "host"
	MembershipPlayer  Membership = "player"
	MembershipPending Membership = "pending"
	MembershipDenied  Membership = "denied"
	MembershipKicked  Membership = "kicked"
)

// Snapshot is what UI clients receive on every state change.
type Snapshot struct {
	Version      int                       `json:"version"`
	State        State                     `json:"state"`
	Roster       []game.Participant        `json:"roster"`
	Membership   Membership                `json:"membership"`
	PendingJoins []event.JoinRequest       `json:"pending_joins,omitempty"`
	Resuming     *recovery.SessionSnapshot `json:"resuming,omitempty"`
}

// View reflects internal state for tests without data races.
type View struct {
	Version      int
	NumClients   int
	State        State
	Membership   Membership
	PendingJoins []event.JoinRequest
}

type Msg interface{ isReplicaMsg() }

// Attach registers a UI client; it receives the current snapshot
// immediately and every subsequent one.
type Attach struct {
	ClientID string
	Outbox   chan Snapshot
}

type Detach struct{ ClientID string }

type AnswerReply struct {
	Result AnswerResult
	Err    error
}

// SubmitAnswer is a two-phase apply: the reply means "accepted locally",
// never "acknowledged by peers"; there is no acknowledgment. The
// broadcast is fire-and-forget after the reply.
type SubmitAnswer struct {
	TaskIdx int
	Answer  string
	Attempt int
	Reply   chan AnswerReply
}

type UseHint struct{ TaskIdx int }

type PinEvidence struct{ EvidenceID string }

type MoveCorkboard struct {
	EvidenceID string
	Pos        Position
}

type StartGame struct{}

type ApproveJoin struct{ PlayerID string }

type DenyJoin struct {
	PlayerID string
	Reason   string
}

type KickPlayer struct{ PlayerID string }

type ResetGame struct{}

type GetState struct{ Reply chan View }

type Shutdown struct{}

type fromTransport struct{ env event.Envelope }

type rosterUpdate struct{ roster []game.Participant }

type requestResync struct{}

func (Attach) isReplicaMsg()        {}
func (Detach) isReplicaMsg()        {}
func (SubmitAnswer) isReplicaMsg()  {}
func (UseHint) isReplicaMsg()       {}
func (PinEvidence) isReplicaMsg()   {}
func (MoveCorkboard) isReplicaMsg() {}
func (StartGame) isReplicaMsg()     {}
func (ApproveJoin) isReplicaMsg()   {}
func (DenyJoin) isReplicaMsg()      {}
func (KickPlayer) isReplicaMsg()    {}
func (ResetGame) isReplicaMsg()     {}
func (GetState) isReplicaMsg()      {}
func (Shutdown) isReplicaMsg()      {}
func (fromTransport) isReplicaMsg() {}
func (rosterUpdate) isReplicaMsg()  {}
func (requestResync) isReplicaMsg() {}

type Config struct {
	Code       string
	Doc        *content.Document
	PlayerID   string
	PlayerName string
	Color      string
	HostID     string
	Transport  transport.Transport
	Recovery   *recovery.Store // optional
	Clock      clockwork.Clock // optional, defaults to real clock
	Log        *zap.Logger     // optional
}

type Replica struct {
	inbox   chan Msg
	state   State
	version int
	clients map[string]chan Snapshot

	playerID   string
	playerName string
	color      string
	membership Membership
	pending    []event.JoinRequest
	roster     []game.Participant

	tr      transport.Transport
	tracker *presence.Tracker
	store   *recovery.Store
	clock   clockwork.Clock
	log     *zap.Logger

	sub    transport.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	resuming    *recovery.SessionSnapshot
	activeSince time.Time
	elapsedBase int
	lastResync  time.Time
	hostSeen    time.Time
}

// NewReplica builds the replica, subscribes it to the session's transport
// scope and starts its loop. A non-host replica announces a join request;
// the host replica is a member from the start.
func NewReplica(parent context.Context, cfg Config) (*Replica, error) {
	ctx, cancel := context.WithCancel(parent)

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("session", cfg.Code), zap.String("player", cfg.PlayerID))

	r := &Replica{
		inbox:      make(chan Msg, 64),
		state:      NewState(cfg.Code, cfg.Doc, cfg.HostID),
		clients:    make(map[string]chan Snapshot),
		playerID:   cfg.PlayerID,
		playerName: cfg.PlayerName,
		color:      cfg.Color,
		membership: MembershipPending,
		tr:         cfg.Transport,
		store:      cfg.Recovery,
		clock:      clock,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		hostSeen:   clock.Now(),
	}
	if cfg.PlayerID == cfg.HostID {
		r.membership = MembershipHost
	}

	if r.store != nil {
		if snap, ok, err := r.store.Load(cfg.Code, cfg.PlayerID); err != nil {
			log.Warn("recovery snapshot load failed", zap.Error(err))
		} else if ok {
			// Pre-populates the UI only; authoritative state comes from
			// peers via resync.
			r.resuming = &snap
			r.elapsedBase = snap.TimeElapsedSeconds
		}
	}

	sub, err := r.tr.Subscribe(ctx, cfg.Code, func(env event.Envelope) {
		r.enqueue(fromTransport{env: env})
	})
	if err != nil {
		cancel()
		return nil, err
	}
	r.sub = sub

	self := transport.PresenceRecord{
		PlayerID:   cfg.PlayerID,
		PlayerName: cfg.PlayerName,
		Color:      cfg.Color,
		UpdatedAt:  clock.Now().UTC(),
	}
	r.tracker = presence.New(r.tr, cfg.Code, self, log, func(roster []game.Participant) {
		r.enqueue(rosterUpdate{roster: roster})
	})
	if err := r.tracker.Start(ctx); err != nil {
		sub.Unsubscribe() //nolint:errcheck
		cancel()
		return nil, err
	}

	r.tr.OnReconnect(func() {
		r.enqueue(requestResync{})
	})

	go r.loop()
	return r, nil
}

// Inbox exposes the actor mailbox to the ws layer and tests.
func (r *Replica) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the replica loop has stopped. Senders select on
// it so a message to a dead replica never blocks.
func (r *Replica) Done() <-chan struct{} { return r.ctx.Done() }

// enqueue never blocks a transport callback; a full inbox drops the
// message and resync heals the gap.
func (r *Replica) enqueue(m Msg) {
	select {
	case r.inbox <- m:
	default:
		r.log.Warn("replica inbox full, dropping message")
	}
}

func (r *Replica) loop() {
	saveTicker := r.clock.NewTicker(saveInterval)
	defer saveTicker.Stop()

	if r.membership == MembershipHost {
		r.sendResyncRequest()
	} else {
		r.publish(event.JoinRequest{PlayerID: r.playerID, PlayerName: r.playerName})
	}

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case <-saveTicker.Chan():
			r.persist()
			if r.checkHostAbsence() {
				r.shutdown()
				return
			}

		case m := <-r.inbox:
			if stop := r.handle(m); stop {
				r.shutdown()
				return
			}
		}
	}
}

func (r *Replica) handle(m Msg) (stop bool) {
	switch msg := m.(type) {
	case Attach:
		r.clients[msg.ClientID] = msg.Outbox
		select {
		case msg.Outbox <- r.snapshot():
		default:
		}

	case Detach:
		if out, ok := r.clients[msg.ClientID]; ok {
			delete(r.clients, msg.ClientID)
			close(out)
		}

	case SubmitAnswer:
		r.handleSubmit(msg)

	case UseHint:
		if !r.isMember() {
			break
		}
		if ns, changed := ApplyHintUsed(r.state, msg.TaskIdx); changed {
			r.state = ns
			r.bump()
		}
		// Re-broadcast even when already marked so peers and late
		// joiners who missed the first broadcast converge.
		r.publish(event.HintUsed{TaskIdx: msg.TaskIdx, PlayerID: r.playerID})

	case PinEvidence:
		if !r.isMember() {
			break
		}
		if ns, changed := ApplyTVPin(r.state, msg.EvidenceID); changed {
			r.state = ns
			r.bump()
			r.publish(event.TVPinUpdated{EvidenceID: msg.EvidenceID, PinnedBy: r.playerID})
		}

	case MoveCorkboard:
		if !r.isMember() {
			break
		}
		if ns, changed := ApplyCorkboard(r.state, msg.EvidenceID, msg.Pos); changed {
			r.state = ns
			r.bump()
			r.publish(event.CorkboardUpdated{
				EvidenceID: msg.EvidenceID, X: msg.Pos.X, Y: msg.Pos.Y, MovedBy: r.playerID,
			})
		}

	case StartGame:
		if r.membership != MembershipHost {
			r.log.Warn("start refused: host only")
			break
		}
		ns, err := Start(r.state)
		if err != nil {
			break
		}
		r.state = ns
		r.markActive()
		r.bump()

	case ApproveJoin:
		if r.membership != MembershipHost {
			r.log.Warn("approve refused: host only")
			break
		}
		r.publish(event.JoinApproved{PlayerID: msg.PlayerID, HostID: r.playerID})

	case DenyJoin:
		if r.membership != MembershipHost {
			r.log.Warn("deny refused: host only")
			break
		}
		r.publish(event.JoinDenied{PlayerID: msg.PlayerID, Reason: msg.Reason})

	case KickPlayer:
		if r.membership != MembershipHost {
			r.log.Warn("kick refused: host only")
			break
		}
		r.publish(event.PlayerKicked{PlayerID: msg.PlayerID, KickedBy: r.playerID})

	case ResetGame:
		if r.membership != MembershipHost {
			r.log.Warn("reset refused: host only")
			break
		}
		r.publish(event.GameReset{ResetBy: r.playerID})

	case GetState:
		msg.Reply <- View{
			Version:      r.version,
			NumClients:   len(r.clients),
			State:        r.state,
			Membership:   r.membership,
			PendingJoins: append([]event.JoinRequest(nil), r.pending...),
		}

	case rosterUpdate:
		r.roster = msg.roster
		for _, p := range msg.roster {
			if p.PlayerID == r.state.HostID {
				r.hostSeen = r.clock.Now()
			}
		}
		r.bump()

	case requestResync:
		r.sendResyncRequest()

	case fromTransport:
		return r.handleEnvelope(msg.env)

	case Shutdown:
		return true
	}
	return false
}

func (r *Replica) handleSubmit(msg SubmitAnswer) {
	reply := func(ar AnswerReply) {
		select {
		case msg.Reply <- ar:
		default:
		}
	}

	if !r.isMember() {
		reply(AnswerReply{Err: ErrNotMember})
		return
	}

	events, ns, res, err := ApplyLocalAnswer(
		r.state, r.playerID, msg.TaskIdx, msg.Answer, msg.Attempt, r.clock.Now())
	reply(AnswerReply{Result: res, Err: err})
	if err != nil || !res.Correct {
		return
	}
	r.state = ns
	r.bump()
	r.publish(events...)
}

func (r *Replica) handleEnvelope(env event.Envelope) (stop bool) {
	p, err := event.Decode(env)
	if err != nil {
		r.log.Warn("dropping malformed event", zap.String("event", string(env.Event)), zap.Error(err))
		return false
	}
	if _, unknown := p.(event.Unknown); !unknown {
		// Any peer event supersedes the locally restored snapshot.
		r.resuming = nil
	}

	switch p := p.(type) {
	case event.ProgressUpdated:
		if ns, changed := ApplyRemoteProgress(r.state, p.Entry); changed {
			r.state = r.ensureActive(ns)
			r.bump()
		}

	case event.HintUsed:
		if ns, changed := ApplyHintUsed(r.state, p.TaskIdx); changed {
			r.state = r.ensureActive(ns)
			r.bump()
		}

	case event.ProgressRequest:
		r.answerResyncRequest(p)

	case event.EvidenceUnlocked:
		// Evidence visibility is recomputed from progress; nothing to fold.

	case event.PresenceAnnounce:
		// Presence rides the transport's presence scope; the tracker owns it.

	case event.TVPinUpdated:
		if ns, changed := ApplyTVPin(r.state, p.EvidenceID); changed {
			r.state = ns
			r.bump()
		}

	case event.CorkboardUpdated:
		if ns, changed := ApplyCorkboard(r.state, p.EvidenceID, Position{X: p.X, Y: p.Y}); changed {
			r.state = ns
			r.bump()
		}

	case event.JoinRequest:
		r.handleJoinRequest(p)

	case event.JoinApproved:
		r.dropPending(p.PlayerID)
		if p.PlayerID == r.playerID && r.membership == MembershipPending {
			r.membership = MembershipPlayer
			r.sendResyncRequest()
		}
		r.bump()

	case event.JoinDenied:
		r.dropPending(p.PlayerID)
		if p.PlayerID == r.playerID && r.membership == MembershipPending {
			r.membership = MembershipDenied
		}
		r.bump()

	case event.PlayerKicked:
		if p.KickedBy != r.state.HostID {
			r.log.Warn("ignoring kick from non-host", zap.String("from", p.KickedBy))
			return false
		}
		r.dropPending(p.PlayerID)
		if p.PlayerID == r.playerID {
			r.membership = MembershipKicked
			r.bump()
			return true
		}
		r.bump()

	case event.GameReset:
		if p.ResetBy != r.state.HostID {
			r.log.Warn("ignoring reset from non-host", zap.String("from", p.ResetBy))
			return false
		}
		r.state = ApplyReset(r.state)
		r.bump()

	case event.Unknown:
		r.log.Debug("ignoring unknown event kind", zap.String("event", string(p.Kind())))
	}
	return false
}

// handleJoinRequest: the host alone decides. A lobby is open, so lobby
// joiners are approved immediately; joiners of an active session queue
// for a manual decision.
func (r *Replica) handleJoinRequest(p event.JoinRequest) {
	if r.membership != MembershipHost || p.PlayerID == r.playerID {
		return
	}
	if r.state.Status == StatusLobby {
		r.publish(event.JoinApproved{PlayerID: p.PlayerID, HostID: r.playerID})
		return
	}
	for _, q := range r.pending {
		if q.PlayerID == p.PlayerID {
			return
		}
	}
	r.pending = append(r.pending, p)
	r.bump()
}

// answerResyncRequest re-broadcasts the full progress set to a requester
// that claims less advanced state. A short debounce keeps simultaneous
// reconnects from flooding; idempotent application makes floods harmless
// anyway.
func (r *Replica) answerResyncRequest(p event.ProgressRequest) {
	if p.RequesterID == r.playerID || r.state.CurrentIdx <= p.CurrentIdx {
		return
	}
	now := r.clock.Now()
	if now.Sub(r.lastResync) < resyncDebounce {
		return
	}
	r.lastResync = now

	for _, idx := range r.state.CompletedTaskIdxs() {
		r.publish(event.ProgressUpdated{Entry: r.state.Progress[idx]})
	}
	for idx, used := range r.state.HintUsed {
		if _, done := r.state.Progress[idx]; used && !done {
			r.publish(event.HintUsed{TaskIdx: idx, PlayerID: r.playerID})
		}
	}
}

func (r *Replica) sendResyncRequest() {
	// Claim the in-memory pointer, not the recovery snapshot's: the
	// snapshot is a UI cache and peers must resend everything we lost.
	r.publish(event.ProgressRequest{RequesterID: r.playerID, CurrentIdx: r.state.CurrentIdx})
}

func (r *Replica) isMember() bool {
	return r.membership == MembershipHost || r.membership == MembershipPlayer
}

// publish encodes and broadcasts fire-and-forget. A kicked or denied
// replica stops emitting events for the session.
func (r *Replica) publish(payloads ...event.Payload) {
	if r.membership == MembershipKicked || r.membership == MembershipDenied {
		return
	}
	for _, p := range payloads {
		env, err := event.Encode(p)
		if err != nil {
			r.log.Warn("encode failed", zap.String("event", string(p.Kind())), zap.Error(err))
			continue
		}
		if err := r.tr.Publish(r.ctx, r.state.Code, env); err != nil {
			r.log.Warn("broadcast failed", zap.String("event", string(p.Kind())), zap.Error(err))
		}
	}
}

// ensureActive derives activation: the vocabulary has no start event, so
// a gameplay event received in the lobby means the host already started.
func (r *Replica) ensureActive(ns State) State {
	if ns.Status != StatusLobby {
		return ns
	}
	started, err := Start(ns)
	if err != nil {
		return ns
	}
	r.markActive()
	return started
}

func (r *Replica) markActive() {
	if r.activeSince.IsZero() {
		r.activeSince = r.clock.Now()
	}
	r.hostSeen = r.clock.Now()
}

func (r *Replica) checkHostAbsence() bool {
	if r.membership == MembershipHost || r.state.Status != StatusActive {
		return false
	}
	if r.clock.Now().Sub(r.hostSeen) <= hostAbsenceTimeout {
		return false
	}
	r.log.Info("abandoning session: host absent")
	r.state = Abandon(r.state)
	r.bump()
	return true
}

func (r *Replica) bump() {
	r.version++
	r.broadcast(r.snapshot())
	r.persist()
}

func (r *Replica) snapshot() Snapshot {
	return Snapshot{
		Version:      r.version,
		State:        r.state,
		Roster:       append([]game.Participant(nil), r.roster...),
		Membership:   r.membership,
		PendingJoins: append([]event.JoinRequest(nil), r.pending...),
		Resuming:     r.resuming,
	}
}

func (r *Replica) broadcast(snap Snapshot) {
	for id, ch := range r.clients {
		select {
		case ch <- snap:
		default:
			// Client is slow or full; drop it.
			close(ch)
			delete(r.clients, id)
		}
	}
}

func (r *Replica) persist() {
	if r.store == nil || !r.isMember() || r.state.Status != StatusActive {
		return
	}
	ids := make([]string, 0, len(r.state.Progress))
	for _, idx := range r.state.CompletedTaskIdxs() {
		ids = append(ids, r.state.Tasks[idx].ID)
	}
	hints := 0
	for _, used := range r.state.HintUsed {
		if used {
			hints++
		}
	}
	snap := recovery.SessionSnapshot{
		SessionCode:        r.state.Code,
		CaseID:             r.state.MysteryID,
		PlayerID:           r.playerID,
		PlayerName:         r.playerName,
		CurrentIdx:         r.state.CurrentIdx,
		CompletedTaskIDs:   ids,
		HintUsed:           r.state.HintUsed[r.state.CurrentIdx],
		HintsUsedCount:     hints,
		TimeElapsedSeconds: r.elapsedSeconds(),
		Timestamp:          r.clock.Now().UTC(),
	}
	if err := r.store.Save(snap); err != nil {
		r.log.Warn("snapshot save failed", zap.Error(err))
	}
}

func (r *Replica) elapsedSeconds() int {
	if r.activeSince.IsZero() {
		return r.elapsedBase
	}
	return r.elapsedBase + int(r.clock.Now().Sub(r.activeSince)/time.Second)
}

func (r *Replica) dropPending(playerID string) {
	for i, q := range r.pending {
		if q.PlayerID == playerID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

func (r *Replica) shutdown() {
	if r.closed {
		return
	}
	r.closed = true

	if r.sub != nil {
		r.sub.Unsubscribe() //nolint:errcheck
	}
	if r.tracker != nil {
		r.tracker.Stop()
	}
	if r.store != nil {
		ended := r.state.Completed() || r.state.Status == StatusAbandoned || r.membership == MembershipKicked
		if ended {
			if err := r.store.Clear(r.state.Code, r.playerID); err != nil {
				r.log.Warn("snapshot clear failed", zap.Error(err))
			}
		}
	}
	for id, ch := range r.clients {
		close(ch)
		delete(r.clients, id)
	}
	r.cancel()
}
