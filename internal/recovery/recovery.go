// Package recovery persists a client-local snapshot of a session so a
// reload or crash can resume play. The snapshot pre-populates the UI
// optimistically while the real state is reconciled over the transport;
// it is a cache and never a source of truth for other participants.
package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// SessionSnapshot is the denormalized, locally owned resume record,
// overwritten on a fixed cadence and on every state change.
type SessionSnapshot struct {
	SessionCode        string    `json:"session_code"`
	CaseID             string    `json:"case_id"`
	PlayerID           string    `json:"player_id"`
	PlayerName         string    `json:"player_name"`
	CurrentIdx         int       `json:"current_idx"`
	CompletedTaskIDs   []string  `json:"completed_task_ids"`
	HintUsed           bool      `json:"hint_used"`
	HintsUsedCount     int       `json:"hints_used_count"`
	TimeElapsedSeconds int       `json:"time_elapsed_seconds"`
	Timestamp          time.Time `json:"timestamp"`
}

type Store struct {
	db *badger.DB
}

// Open creates or reopens the snapshot store at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open recovery store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(code, playerID string) []byte {
	return []byte("snapshot/" + code + "/" + playerID)
}

func (s *Store) Save(snap SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(snap.SessionCode, snap.PlayerID), data)
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot for (code, playerID); ok is false when
// none exists.
func (s *Store) Load(code, playerID string) (SessionSnapshot, bool, error) {
	var snap SessionSnapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(code, playerID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return SessionSnapshot{}, false, nil
	}
	if err != nil {
		return SessionSnapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, true, nil
}

// Clear drops the snapshot on session end.
func (s *Store) Clear(code, playerID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(code, playerID))
	})
	if err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}
