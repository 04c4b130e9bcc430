package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("code %q: want 6 chars", code)
		}
		for _, c := range code {
			if !strings.ContainsRune("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", c) {
				t.Fatalf("code %q: unexpected char %q", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Fatal("codes never vary")
	}
}

func TestCreateSession_DevMode(t *testing.T) {
	h := CreateSession(nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/sessions",
		strings.NewReader(`{"host_user_id":"u1","mystery_id":"harbour-lights"}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Code) != 6 {
		t.Fatalf("code %q: want 6 chars", resp.Code)
	}
}

func TestCreateSession_RejectsBadRequests(t *testing.T) {
	h := CreateSession(nil, zap.NewNop())

	for name, body := range map[string]string{
		"malformed json": `{not json`,
		"missing host":   `{"mystery_id":"harbour-lights"}`,
		"missing case":   `{"host_user_id":"u1"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", name, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
