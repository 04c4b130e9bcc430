package game

import (
	"testing"
	"time"
)

func TestIsCorrectAnswer(t *testing.T) {
	task := Task{Idx: 0, Type: TaskOpen, Answer: "Harbour"}

	cases := []struct {
		name      string
		submitted string
		want      bool
	}{
		{name: "exact match", submitted: "Harbour", want: true},
		{name: "surrounding whitespace", submitted: "  HARBOUR  ", want: true},
		{name: "mixed case", submitted: "hArBoUr", want: true},
		{name: "empty", submitted: "", want: false},
		{name: "whitespace only", submitted: "   ", want: false},
		{name: "substring is not enough", submitted: "Harb", want: false},
		{name: "different answer", submitted: "Lighthouse", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsCorrectAnswer(task, tc.submitted); got != tc.want {
				t.Fatalf("IsCorrectAnswer(%q): got %v, want %v", tc.submitted, got, tc.want)
			}
		})
	}
}

func TestIsCorrectAnswer_MCQOptionString(t *testing.T) {
	task := Task{Idx: 2, Type: TaskMCQ, Options: []string{"North pier", "South pier"}, Answer: "North pier"}
	if !IsCorrectAnswer(task, "north pier") {
		t.Fatalf("mcq option should validate the same way as open text")
	}
}

func TestCalculateScore(t *testing.T) {
	cases := []struct {
		name    string
		correct bool
		hint    bool
		attempt int
		want    int
	}{
		{name: "clean first attempt", correct: true, hint: false, attempt: 1, want: 100},
		{name: "hint used", correct: true, hint: true, attempt: 1, want: 0},
		{name: "second attempt", correct: true, hint: false, attempt: 2, want: 0},
		{name: "hint and retry", correct: true, hint: true, attempt: 3, want: 0},
		{name: "incorrect", correct: false, hint: false, attempt: 1, want: 0},
		{name: "incorrect with hint", correct: false, hint: true, attempt: 1, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CalculateScore(tc.correct, tc.hint, tc.attempt); got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestWins_EarlierTimestamp(t *testing.T) {
	t0 := time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC)
	early := ProgressEntry{TaskIdx: 1, CompletedBy: "p-zed", CompletedAt: t0}
	late := ProgressEntry{TaskIdx: 1, CompletedBy: "p-abe", CompletedAt: t0.Add(40 * time.Millisecond)}

	if !Wins(early, late) {
		t.Fatalf("earlier entry must win")
	}
	if Wins(late, early) {
		t.Fatalf("later entry must lose regardless of player id")
	}
}

func TestWins_TieBrokenByPlayerID(t *testing.T) {
	t0 := time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC)
	a := ProgressEntry{TaskIdx: 1, CompletedBy: "p-abe", CompletedAt: t0}
	b := ProgressEntry{TaskIdx: 1, CompletedBy: "p-zed", CompletedAt: t0}

	if !Wins(a, b) {
		t.Fatalf("lexicographically smaller player id must win the tie")
	}
	if Wins(b, a) {
		t.Fatalf("tie-break must be antisymmetric")
	}
}

func TestProgressEntryScore_MatchesScoringPolicy(t *testing.T) {
	clean := ProgressEntry{AttemptNumber: 1}
	if clean.Score() != 100 {
		t.Fatalf("clean solve should contribute 100, got %d", clean.Score())
	}
	hinted := ProgressEntry{AttemptNumber: 1, HintUsed: true}
	if hinted.Score() != 0 {
		t.Fatalf("hinted solve should contribute 0, got %d", hinted.Score())
	}
}
