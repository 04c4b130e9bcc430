package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveLoadClear(t *testing.T) {
	s := openTestStore(t)

	snap := SessionSnapshot{
		SessionCode:        "ABC123",
		CaseID:             "case-hl",
		PlayerID:           "p-1",
		PlayerName:         "Ada",
		CurrentIdx:         2,
		CompletedTaskIDs:   []string{"t-dock", "t-witness"},
		HintsUsedCount:     1,
		TimeElapsedSeconds: 340,
		Timestamp:          time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Save(snap))

	got, ok, err := s.Load("ABC123", "p-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap, got)

	require.NoError(t, s.Clear("ABC123", "p-1"))
	_, ok, err = s.Load("ABC123", "p-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_LoadMissingIsNotAnError(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Load("NOPE99", "p-9")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_SaveOverwrites(t *testing.T) {
	s := openTestStore(t)

	snap := SessionSnapshot{SessionCode: "ABC123", PlayerID: "p-1", CurrentIdx: 1}
	require.NoError(t, s.Save(snap))
	snap.CurrentIdx = 2
	require.NoError(t, s.Save(snap))

	got, ok, err := s.Load("ABC123", "p-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, got.CurrentIdx)
}

func TestStore_KeysScopedPerPlayer(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save(SessionSnapshot{SessionCode: "ABC123", PlayerID: "p-1", CurrentIdx: 1}))
	require.NoError(t, s.Save(SessionSnapshot{SessionCode: "ABC123", PlayerID: "p-2", CurrentIdx: 3}))

	got, ok, err := s.Load("ABC123", "p-2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, got.CurrentIdx)
}
