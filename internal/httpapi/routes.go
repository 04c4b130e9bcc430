package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kmattila9/sleuthsync/internal/access"
	"github.com/kmattila9/sleuthsync/internal/hub"
	"github.com/kmattila9/sleuthsync/internal/payment"
	"github.com/kmattila9/sleuthsync/internal/ws"
)

// SetupRoutes wires the serving surface. store may be nil in dev mode;
// the webhook route is only mounted when fulfillment has somewhere to go.
func SetupRoutes(h *hub.Hub, store *access.Store, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/sessions", CreateSession(store, log))
	r.Get("/sessions/{code}", GetSessionInfo(store))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, log))
	if store != nil {
		r.Post("/webhooks/payment", payment.WebhookHandler(store, log))
	}
	return r
}
