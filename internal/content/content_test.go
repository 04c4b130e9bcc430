package content

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_CaseDocument(t *testing.T) {
	l := NewLoader(filepath.Join("testdata", "cases"))

	doc, err := l.Load(context.Background(), "harbour-lights", "en")
	require.NoError(t, err)
	require.Equal(t, "The Harbour Lights Affair", doc.Case.Title)
	require.Len(t, doc.Tasks, 3)
	require.True(t, doc.Tasks[2].IsFinal)
	require.Len(t, doc.Evidence, 2)
}

func TestLoad_FallsBackToEnglish(t *testing.T) {
	l := NewLoader(filepath.Join("testdata", "cases"))

	doc, err := l.Load(context.Background(), "harbour-lights", "de")
	require.NoError(t, err)
	require.Equal(t, "en", doc.Case.Locale)
}

func TestLoad_UnknownCase(t *testing.T) {
	l := NewLoader(filepath.Join("testdata", "cases"))

	_, err := l.Load(context.Background(), "no-such-case", "en")
	require.ErrorIs(t, err, ErrCaseNotFound)
}

func TestLoad_RejectsGappedTaskOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bad-case"), 0o755))
	raw := `{
		"case": {"id": "c", "code": "bad-case", "title": "Bad", "locale": "en"},
		"tasks": [
			{"id": "t0", "idx": 0, "type": "open", "question": "q", "answer": "a"},
			{"id": "t2", "idx": 2, "type": "open", "question": "q", "answer": "a"}
		],
		"evidence": []
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad-case", "en.json"), []byte(raw), 0o644))

	_, err := NewLoader(dir).Load(context.Background(), "bad-case", "en")
	require.ErrorIs(t, err, ErrInvalidDocument)
}
