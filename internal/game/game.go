// Package game holds the pure domain model for a mystery case: tasks,
// progress entries, answer validation, scoring, and the deterministic
// tie-break used when two players solve the same task concurrently.
// Nothing in this package performs I/O or reads the clock.
package game

import (
	"strings"
	"time"
)

type TaskType string

const (
	TaskMCQ  TaskType = "mcq"
	TaskOpen TaskType = "open"
)

// Task is immutable once loaded from the content store; it is shared by
// every participant and never mutated at runtime.
type Task struct {
	ID         string   `json:"id"`
	Idx        int      `json:"idx"`
	Type       TaskType `json:"type"`
	Question   string   `json:"question"`
	Options    []string `json:"options,omitempty"`
	Answer     string   `json:"answer"`
	Hint       string   `json:"hint,omitempty"`
	IsFinal    bool     `json:"is_final"`
	Revelation string   `json:"revelation,omitempty"`
}

// ProgressEntry records that a task was completed, by whom, and under
// what conditions. At most one entry per task index survives convergence.
type ProgressEntry struct {
	TaskIdx       int       `json:"task_idx"`
	CompletedBy   string    `json:"completed_by"`
	HintUsed      bool      `json:"hint_used"`
	AttemptNumber int       `json:"attempt_number"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Participant is owned by the presence tracker; the session state machine
// only references it to attribute actions.
type Participant struct {
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Color      string    `json:"color"`
	JoinedAt   time.Time `json:"joined_at"`
}

// Normalize trims surrounding whitespace and lowercases a submitted
// answer so comparison is case and whitespace insensitive.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsCorrectAnswer reports whether submitted matches the task's canonical
// answer. Exact match after normalization, no substring or fuzzy logic.
// An empty submission is never correct.
func IsCorrectAnswer(task Task, submitted string) bool {
	sub := Normalize(submitted)
	if sub == "" {
		return false
	}
	return sub == Normalize(task.Answer)
}

// CalculateScore returns the points a completed attempt earns: 100 for a
// correct, unhinted, first-attempt solve, otherwise 0. Score never goes
// negative and a hinted or repeated attempt is never upgraded later.
func CalculateScore(isCorrect, hintUsed bool, attemptNumber int) int {
	if isCorrect && !hintUsed && attemptNumber == 1 {
		return 100
	}
	return 0
}

// Wins reports whether candidate beats incumbent for the same task slot:
// earliest CompletedAt first, ties broken by the lexicographically
// smaller CompletedBy. Deterministic regardless of arrival order.
func Wins(candidate, incumbent ProgressEntry) bool {
	if candidate.CompletedAt.Before(incumbent.CompletedAt) {
		return true
	}
	if incumbent.CompletedAt.Before(candidate.CompletedAt) {
		return false
	}
	return candidate.CompletedBy < incumbent.CompletedBy
}

// Score is the points a progress entry contributed; scores are always
// derived from entries so replicas that converge on entries converge on
// scores too.
func (e ProgressEntry) Score() int {
	return CalculateScore(true, e.HintUsed, e.AttemptNumber)
}
