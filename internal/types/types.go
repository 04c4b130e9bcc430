package types

import "github.com/kmattila9/sleuthsync/internal/session"

// ClientMessage is what the browser UI sends over the websocket.
//
// Types:
//   SubmitAnswer  { task_idx, answer, attempt }
//   UseHint       { task_idx }
//   PinEvidence   { evidence_id }
//   MoveCorkboard { evidence_id, x, y }
//   StartGame     {}
//   ApproveJoin   { player_id }
//   DenyJoin      { player_id, reason }
//   KickPlayer    { player_id }
//   ResetGame     {}
type ClientMessage struct {
	Type       string  `json:"type"`
	TaskIdx    int     `json:"task_idx,omitempty"`
	Answer     string  `json:"answer,omitempty"`
	Attempt    int     `json:"attempt,omitempty"`
	EvidenceID string  `json:"evidence_id,omitempty"`
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	PlayerID   string  `json:"player_id,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

type ServerMessage struct {
	Type     string                `json:"type"` // "StateSnapshot" | "AnswerResult" | "Error"
	Snapshot *session.Snapshot     `json:"snapshot,omitempty"`
	Result   *session.AnswerResult `json:"result,omitempty"`
	Error    string                `json:"error,omitempty"`
}
