package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kmattila9/sleuthsync/internal/access"
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type createSessionRequest struct {
	HostUserID string `json:"host_user_id"`
	MysteryID  string `json:"mystery_id"`
}

type createSessionResponse struct {
	Code string `json:"code"`
}

// CreateSession mints a session code for a host. With a store configured
// it verifies the host owns the mystery and persists the record; without
// one (dev mode) every create succeeds and nothing is persisted.
func CreateSession(store *access.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.HostUserID == "" || req.MysteryID == "" {
			http.Error(w, "missing host_user_id or mystery_id", http.StatusBadRequest)
			return
		}

		if store != nil {
			ok, err := store.HasAccess(r.Context(), req.HostUserID, req.MysteryID)
			if err != nil {
				log.Error("access check failed", zap.Error(err))
				http.Error(w, "access check failed", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, "mystery not purchased", http.StatusForbidden)
				return
			}
		}

		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			if store == nil {
				code = c
				break
			}
			if _, err := store.GetSession(r.Context(), c); errors.Is(err, access.ErrSessionNotFound) {
				code = c
				break
			} else if err != nil {
				log.Error("session lookup failed", zap.Error(err))
				http.Error(w, "session lookup failed", http.StatusInternalServerError)
				return
			}
			log.Info("collision on code, regenerating")
		}

		if store != nil {
			rec := access.SessionRecord{
				Code:       code,
				MysteryID:  req.MysteryID,
				HostUserID: req.HostUserID,
				Status:     "lobby",
			}
			if err := store.CreateSession(r.Context(), rec); err != nil {
				log.Error("session create failed", zap.Error(err))
				http.Error(w, "failed to create session", http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createSessionResponse{Code: code})
	}
}

// GetSessionInfo lets a joining client resolve the mystery and host for
// a code before opening its websocket.
func GetSessionInfo(store *access.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "no session store configured", http.StatusNotFound)
			return
		}
		rec, err := store.GetSession(r.Context(), chi.URLParam(r, "code"))
		if errors.Is(err, access.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		} else if err != nil {
			http.Error(w, "session lookup failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Code      string `json:"code"`
			MysteryID string `json:"mystery_id"`
			HostID    string `json:"host_id"`
			Status    string `json:"status"`
		}{rec.Code, rec.MysteryID, rec.HostUserID, rec.Status})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
