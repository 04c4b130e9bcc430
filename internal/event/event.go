// Package event defines the closed vocabulary of domain events exchanged
// over the session transport and the codec between typed payloads and the
// wire envelope.
//
// Wire shape (every broadcast):
//
//	{ "event": <kind string>, "payload": <kind-specific JSON> }
//
// Kinds:
//
//	progress.updated   { entry: ProgressEntry }
//	progress.request   { requester_id, current_idx }
//	evidence.unlocked  { evidence_id, task_idx }
//	hint.used          { task_idx, player_id }
//	tv.pin.updated     { evidence_id, pinned_by }
//	corkboard.updated  { evidence_id, x, y, moved_by }
//	presence.announce  { playerId, playerName, color, updatedAt }
//	join.request       { player_id, player_name }
//	join.approved      { player_id, host_id }
//	join.denied        { player_id, reason }
//	player.kicked      { player_id, kicked_by }
//	game.reset         { reset_by }
//
// Unknown kinds decode to Unknown and must be ignored by consumers, never
// rejected: the transport evolves independently of any single client
// build. The codec promises no ordering; ordering is the state machine's
// concern.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kmattila9/sleuthsync/internal/game"
)

type Kind string

const (
	KindProgressUpdated  Kind = "progress.updated"
	KindProgressRequest  Kind = "progress.request"
	KindEvidenceUnlocked Kind = "evidence.unlocked"
	KindHintUsed         Kind = "hint.used"
	KindTVPinUpdated     Kind = "tv.pin.updated"
	KindCorkboardUpdated Kind = "corkboard.updated"
	KindPresenceAnnounce Kind = "presence.announce"
	KindJoinRequest      Kind = "join.request"
	KindJoinApproved     Kind = "join.approved"
	KindJoinDenied       Kind = "join.denied"
	KindPlayerKicked     Kind = "player.kicked"
	KindGameReset        Kind = "game.reset"
)

// Envelope is the transport-level message. The payload is opaque to the
// transport.
type Envelope struct {
	Event   Kind            `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Payload is the tagged union of event payloads.
type Payload interface {
	Kind() Kind
}

type ProgressUpdated struct {
	Entry game.ProgressEntry `json:"entry"`
}

type ProgressRequest struct {
	RequesterID string `json:"requester_id"`
	CurrentIdx  int    `json:"current_idx"`
}

type EvidenceUnlocked struct {
	EvidenceID string `json:"evidence_id"`
	TaskIdx    int    `json:"task_idx"`
}

type HintUsed struct {
	TaskIdx  int    `json:"task_idx"`
	PlayerID string `json:"player_id"`
}

type TVPinUpdated struct {
	EvidenceID string `json:"evidence_id"`
	PinnedBy   string `json:"pinned_by"`
}

type CorkboardUpdated struct {
	EvidenceID string  `json:"evidence_id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	MovedBy    string  `json:"moved_by"`
}

type PresenceAnnounce struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Color      string    `json:"color"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type JoinRequest struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

type JoinApproved struct {
	PlayerID string `json:"player_id"`
	HostID   string `json:"host_id"`
}

type JoinDenied struct {
	PlayerID string `json:"player_id"`
	Reason   string `json:"reason,omitempty"`
}

type PlayerKicked struct {
	PlayerID string `json:"player_id"`
	KickedBy string `json:"kicked_by"`
}

type GameReset struct {
	ResetBy string `json:"reset_by"`
}

// Unknown carries an event kind this build does not understand. Applying
// it is a no-op.
type Unknown struct {
	Event Kind
	Raw   json.RawMessage
}

func (ProgressUpdated) Kind() Kind  { return KindProgressUpdated }
func (ProgressRequest) Kind() Kind  { return KindProgressRequest }
func (EvidenceUnlocked) Kind() Kind { return KindEvidenceUnlocked }
func (HintUsed) Kind() Kind         { return KindHintUsed }
func (TVPinUpdated) Kind() Kind     { return KindTVPinUpdated }
func (CorkboardUpdated) Kind() Kind { return KindCorkboardUpdated }
func (PresenceAnnounce) Kind() Kind { return KindPresenceAnnounce }
func (JoinRequest) Kind() Kind      { return KindJoinRequest }
func (JoinApproved) Kind() Kind     { return KindJoinApproved }
func (JoinDenied) Kind() Kind       { return KindJoinDenied }
func (PlayerKicked) Kind() Kind     { return KindPlayerKicked }
func (GameReset) Kind() Kind        { return KindGameReset }
func (u Unknown) Kind() Kind        { return u.Event }

// Encode wraps a typed payload into its wire envelope. Encoding a
// well-formed payload never fails in practice; the error is surfaced for
// completeness.
func Encode(p Payload) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", p.Kind(), err)
	}
	return Envelope{Event: p.Kind(), Payload: raw}, nil
}

// Decode resolves an envelope into its typed payload. Unknown kinds
// return an Unknown payload and a nil error; callers log and drop it. A
// malformed payload for a known kind returns an error so the caller can
// drop it too.
func Decode(env Envelope) (Payload, error) {
	switch env.Event {
	case KindProgressUpdated:
		return decodeAs[ProgressUpdated](env)
	case KindProgressRequest:
		return decodeAs[ProgressRequest](env)
	case KindEvidenceUnlocked:
		return decodeAs[EvidenceUnlocked](env)
	case KindHintUsed:
		return decodeAs[HintUsed](env)
	case KindTVPinUpdated:
		return decodeAs[TVPinUpdated](env)
	case KindCorkboardUpdated:
		return decodeAs[CorkboardUpdated](env)
	case KindPresenceAnnounce:
		return decodeAs[PresenceAnnounce](env)
	case KindJoinRequest:
		return decodeAs[JoinRequest](env)
	case KindJoinApproved:
		return decodeAs[JoinApproved](env)
	case KindJoinDenied:
		return decodeAs[JoinDenied](env)
	case KindPlayerKicked:
		return decodeAs[PlayerKicked](env)
	case KindGameReset:
		return decodeAs[GameReset](env)
	default:
		return Unknown{Event: env.Event, Raw: env.Payload}, nil
	}
}

func decodeAs[T Payload](env Envelope) (Payload, error) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return p, nil
}
