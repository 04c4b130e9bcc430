// Package content loads read-only case documents. A document is keyed by
// (caseCode, locale) and treated as an immutable load-once input per
// session.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kmattila9/sleuthsync/internal/game"
)

var ErrCaseNotFound = errors.New("case not found")
var ErrInvalidDocument = errors.New("invalid case document")

const fallbackLocale = "en"

type Case struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Title   string `json:"title"`
	Locale  string `json:"locale"`
	Summary string `json:"summary,omitempty"`
}

// Evidence becomes visible once the task at UnlockOnTaskIdx is completed;
// visibility is recomputed from progress, never stored.
type Evidence struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Image           string `json:"image,omitempty"`
	UnlockOnTaskIdx int    `json:"unlock_on_task_idx"`
}

type Document struct {
	Case     Case        `json:"case"`
	Tasks    []game.Task `json:"tasks"`
	Evidence []Evidence  `json:"evidence"`
}

// Loader reads documents from <dir>/<caseCode>/<locale>.json, falling
// back to the "en" document when the requested locale has none.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

func (l *Loader) Load(ctx context.Context, caseCode, locale string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(l.dir, caseCode, locale+".json"))
	if errors.Is(err, os.ErrNotExist) && locale != fallbackLocale {
		data, err = os.ReadFile(filepath.Join(l.dir, caseCode, fallbackLocale+".json"))
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, caseCode)
	}
	if err != nil {
		return nil, fmt.Errorf("read case %s: %w", caseCode, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, caseCode, err)
	}
	if err := validate(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, caseCode, err)
	}
	return &doc, nil
}

func validate(doc *Document) error {
	if len(doc.Tasks) == 0 {
		return errors.New("no tasks")
	}
	for i, task := range doc.Tasks {
		if task.Idx != i {
			return fmt.Errorf("task %q: idx %d out of order, want %d", task.ID, task.Idx, i)
		}
		if task.Answer == "" {
			return fmt.Errorf("task %q: empty answer", task.ID)
		}
		if task.Type == game.TaskMCQ && len(task.Options) == 0 {
			return fmt.Errorf("task %q: mcq without options", task.ID)
		}
		if task.IsFinal && i != len(doc.Tasks)-1 {
			return fmt.Errorf("task %q: final task must be last", task.ID)
		}
	}
	for _, ev := range doc.Evidence {
		if ev.UnlockOnTaskIdx < 0 || ev.UnlockOnTaskIdx >= len(doc.Tasks) {
			return fmt.Errorf("evidence %q: unlock_on_task_idx %d out of range", ev.ID, ev.UnlockOnTaskIdx)
		}
	}
	return nil
}
