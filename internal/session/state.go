package session

import (
	"errors"
	"sort"
	"time"

	"github.com/kmattila9/sleuthsync/internal/content"
	"github.com/kmattila9/sleuthsync/internal/event"
	"github.com/kmattila9/sleuthsync/internal/game"
)

var ErrNotActive = errors.New("session not active")
var ErrStaleTask = errors.New("stale task")
var ErrAlreadyActive = errors.New("session already active")
var ErrAbandoned = errors.New("session abandoned")
var ErrNotMember = errors.New("not a session member")
var ErrHostOnly = errors.New("host only")

type Status string

const (
	StatusLobby     Status = "lobby"
	StatusActive    Status = "active"
	StatusAbandoned Status = "abandoned"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// State is one replica's copy of the shared session. Every client owns
// its copy exclusively and mutates it only through the Apply functions
// below, which are pure: they return a new state and never block.
type State struct {
	Code       string                     `json:"code"`
	MysteryID  string                     `json:"mystery_id"`
	HostID     string                     `json:"host_id"`
	Status     Status                     `json:"status"`
	Tasks      []game.Task                `json:"tasks"`
	Evidence   []content.Evidence         `json:"evidence"`
	CurrentIdx int                        `json:"current_idx"`
	Progress   map[int]game.ProgressEntry `json:"progress"`
	HintUsed   map[int]bool               `json:"hint_used"`
	TVPin      string                     `json:"tv_pin,omitempty"`
	Corkboard  map[string]Position        `json:"corkboard,omitempty"`
}

func NewState(code string, doc *content.Document, hostID string) State {
	return State{
		Code:      code,
		MysteryID: doc.Case.ID,
		HostID:    hostID,
		Status:    StatusLobby,
		Tasks:     doc.Tasks,
		Evidence:  doc.Evidence,
		Progress:  map[int]game.ProgressEntry{},
		HintUsed:  map[int]bool{},
		Corkboard: map[string]Position{},
	}
}

func (s State) clone() State {
	ns := s
	ns.Progress = make(map[int]game.ProgressEntry, len(s.Progress))
	for k, v := range s.Progress {
		ns.Progress[k] = v
	}
	ns.HintUsed = make(map[int]bool, len(s.HintUsed))
	for k, v := range s.HintUsed {
		ns.HintUsed[k] = v
	}
	ns.Corkboard = make(map[string]Position, len(s.Corkboard))
	for k, v := range s.Corkboard {
		ns.Corkboard[k] = v
	}
	return ns
}

// Start moves lobby -> active. Transitions are one-directional.
func Start(s State) (State, error) {
	switch s.Status {
	case StatusActive:
		return s, ErrAlreadyActive
	case StatusAbandoned:
		return s, ErrAbandoned
	}
	ns := s.clone()
	ns.Status = StatusActive
	return ns, nil
}

// Abandon is terminal; an abandoned session has no outgoing transition.
func Abandon(s State) State {
	ns := s.clone()
	ns.Status = StatusAbandoned
	return ns
}

type AnswerResult struct {
	Correct         bool   `json:"correct"`
	ScoreDelta      int    `json:"score_delta"`
	AlreadySolvedBy string `json:"already_solved_by,omitempty"`
	Revelation      string `json:"revelation,omitempty"`
}

// ApplyLocalAnswer validates and scores a local submission. Answers that
// do not target the current task pointer are rejected as stale: a
// client's UI may lag behind a peer who already advanced the shared
// pointer. An incorrect answer is a result, not an error.
func ApplyLocalAnswer(s State, by string, taskIdx int, submitted string, attempt int, now time.Time) ([]event.Payload, State, AnswerResult, error) {
	if s.Status != StatusActive {
		return nil, s, AnswerResult{}, ErrNotActive
	}
	if taskIdx < 0 || taskIdx >= len(s.Tasks) {
		return nil, s, AnswerResult{}, ErrStaleTask
	}
	if done, ok := s.Progress[taskIdx]; ok {
		return nil, s, AnswerResult{AlreadySolvedBy: done.CompletedBy}, ErrStaleTask
	}
	if taskIdx != s.CurrentIdx {
		return nil, s, AnswerResult{}, ErrStaleTask
	}

	task := s.Tasks[taskIdx]
	if !game.IsCorrectAnswer(task, submitted) {
		return nil, s, AnswerResult{Correct: false}, nil
	}

	entry := game.ProgressEntry{
		TaskIdx:       taskIdx,
		CompletedBy:   by,
		HintUsed:      s.HintUsed[taskIdx],
		AttemptNumber: attempt,
		CompletedAt:   now.UTC(),
	}

	ns := s.clone()
	ns.Progress[taskIdx] = entry
	ns.CurrentIdx = taskIdx + 1

	events := []event.Payload{event.ProgressUpdated{Entry: entry}}
	for _, ev := range s.Evidence {
		if ev.UnlockOnTaskIdx == taskIdx {
			events = append(events, event.EvidenceUnlocked{EvidenceID: ev.ID, TaskIdx: taskIdx})
		}
	}

	res := AnswerResult{Correct: true, ScoreDelta: entry.Score(), Revelation: task.Revelation}
	return events, ns, res, nil
}

// ApplyRemoteProgress folds a peer's entry into local state. First writer
// wins by earliest CompletedAt, ties by smaller player id; the losing
// entry is discarded. Applying the same entry twice is a no-op, and an
// entry far ahead of the current pointer is rejected so the completed set
// always stays a prefix of the task order.
func ApplyRemoteProgress(s State, entry game.ProgressEntry) (State, bool) {
	if s.Status == StatusAbandoned {
		return s, false
	}
	if entry.TaskIdx < 0 || entry.TaskIdx >= len(s.Tasks) {
		return s, false
	}

	existing, ok := s.Progress[entry.TaskIdx]
	if ok {
		// Wins is false for an identical entry, so duplicate delivery
		// is a no-op.
		if !game.Wins(entry, existing) {
			return s, false
		}
		ns := s.clone()
		ns.Progress[entry.TaskIdx] = entry
		return ns, true
	}

	if entry.TaskIdx > s.CurrentIdx {
		return s, false
	}

	ns := s.clone()
	ns.Progress[entry.TaskIdx] = entry
	if entry.HintUsed {
		ns.HintUsed[entry.TaskIdx] = true
	}
	if entry.TaskIdx == ns.CurrentIdx {
		ns.CurrentIdx++
	}
	return ns, true
}

// ApplyHintUsed marks a hint used. Monotonic: once set, locally or from a
// peer, it never unsets, and it folds into an existing progress entry.
func ApplyHintUsed(s State, taskIdx int) (State, bool) {
	if taskIdx < 0 || taskIdx >= len(s.Tasks) {
		return s, false
	}
	ns := s.clone()
	changed := false
	if !ns.HintUsed[taskIdx] {
		ns.HintUsed[taskIdx] = true
		changed = true
	}
	if entry, ok := ns.Progress[taskIdx]; ok && !entry.HintUsed {
		entry.HintUsed = true
		ns.Progress[taskIdx] = entry
		changed = true
	}
	if !changed {
		return s, false
	}
	return ns, true
}

// ApplyReset clears all progress and returns the pointer to the first
// task for everyone who receives it. Host-only origination is enforced by
// the caller as an advisory policy.
func ApplyReset(s State) State {
	ns := s.clone()
	ns.Progress = map[int]game.ProgressEntry{}
	ns.HintUsed = map[int]bool{}
	ns.CurrentIdx = 0
	ns.TVPin = ""
	ns.Corkboard = map[string]Position{}
	return ns
}

// ApplyTVPin and ApplyCorkboard are shared UI state with last-write-wins
// semantics; the codec promises no cross-sender ordering for them.
func ApplyTVPin(s State, evidenceID string) (State, bool) {
	if s.TVPin == evidenceID {
		return s, false
	}
	ns := s.clone()
	ns.TVPin = evidenceID
	return ns, true
}

func ApplyCorkboard(s State, evidenceID string, pos Position) (State, bool) {
	if cur, ok := s.Corkboard[evidenceID]; ok && cur == pos {
		return s, false
	}
	ns := s.clone()
	ns.Corkboard[evidenceID] = pos
	return ns, true
}

// CompletedTaskIdxs returns completed task indexes in ascending order.
// The invariant holds at all times: the result is a gap-free prefix
// [0..CurrentIdx).
func (s State) CompletedTaskIdxs() []int {
	out := make([]int, 0, len(s.Progress))
	for idx := range s.Progress {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// UnlockedEvidence is a read-only projection recomputed from progress:
// evidence is visible once its unlocking task has a progress entry.
func (s State) UnlockedEvidence() []content.Evidence {
	out := make([]content.Evidence, 0, len(s.Evidence))
	for _, ev := range s.Evidence {
		if _, ok := s.Progress[ev.UnlockOnTaskIdx]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// Scores derives each player's total from the progress entries, so
// replicas that converge on entries converge on scores.
func (s State) Scores() map[string]int {
	out := make(map[string]int)
	for _, entry := range s.Progress {
		out[entry.CompletedBy] += entry.Score()
	}
	return out
}

func (s State) Completed() bool {
	return len(s.Tasks) > 0 && s.CurrentIdx >= len(s.Tasks)
}
