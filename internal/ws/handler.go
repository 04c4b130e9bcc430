package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kmattila9/sleuthsync/internal/hub"
	"github.com/kmattila9/sleuthsync/internal/session"
	"github.com/kmattila9/sleuthsync/internal/types"
)

// Handler attaches a browser connection to its session replica: local
// commands in, state snapshots out. The host_id parameter is advisory,
// like all host authority in this protocol.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		code := q.Get("code")
		caseCode := q.Get("case")
		playerID := q.Get("player_id")
		if code == "" || caseCode == "" || playerID == "" {
			http.Error(w, "missing code, case or player_id", http.StatusBadRequest)
			return
		}
		locale := q.Get("locale")
		if locale == "" {
			locale = "en"
		}
		hostID := q.Get("host_id")
		if hostID == "" {
			hostID = playerID
		}

		reply := make(chan hub.OpenReply, 1)
		h.Inbox() <- hub.OpenReplica{
			Code:       code,
			CaseCode:   caseCode,
			Locale:     locale,
			PlayerID:   playerID,
			PlayerName: q.Get("name"),
			Color:      q.Get("color"),
			HostID:     hostID,
			Reply:      reply,
		}
		opened := <-reply
		if opened.Err != nil {
			log.Warn("replica open failed", zap.String("session", code), zap.Error(opened.Err))
			http.Error(w, "session unavailable", http.StatusNotFound)
			return
		}
		replica := opened.Replica

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan session.Snapshot, 8)
		clientID := uuid.NewString()

		// Disconnect tears the replica down; a reconnect rebuilds it from
		// the recovery snapshot plus peer resync.
		defer func() { h.Inbox() <- hub.ReleaseReplica{Code: code, PlayerID: playerID} }()

		if !send(replica, session.Attach{ClientID: clientID, Outbox: out}) {
			close(out)
		}
		defer send(replica, session.Detach{ClientID: clientID})

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for snap := range out {
				snap := snap
				msg := types.ServerMessage{Type: "StateSnapshot", Snapshot: &snap}
				payload, _ := json.Marshal(msg)
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
			// Outbox closed: the replica detached us or shut down.
			conn.Close(websocket.StatusNormalClosure, "session closed")
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}

			if cm.Type == "SubmitAnswer" {
				answerReply := make(chan session.AnswerReply, 1)
				sent := send(replica, session.SubmitAnswer{
					TaskIdx: cm.TaskIdx, Answer: cm.Answer, Attempt: cm.Attempt, Reply: answerReply,
				})
				if !sent {
					writeError(r.Context(), conn, "session closed")
					continue
				}
				select {
				case ar := <-answerReply:
					writeAnswer(r.Context(), conn, ar)
				case <-replica.Done():
					writeError(r.Context(), conn, "session closed")
				}
				continue
			}

			msg, ok := toReplicaMsg(cm)
			if !ok {
				writeError(r.Context(), conn, "unknown type")
				continue
			}
			send(replica, msg)
		}
	}
}

// send delivers a message to the replica unless its loop has stopped.
func send(r *session.Replica, m session.Msg) bool {
	select {
	case r.Inbox() <- m:
		return true
	case <-r.Done():
		return false
	}
}

func toReplicaMsg(m types.ClientMessage) (session.Msg, bool) {
	switch m.Type {
	case "UseHint":
		return session.UseHint{TaskIdx: m.TaskIdx}, true
	case "PinEvidence":
		return session.PinEvidence{EvidenceID: m.EvidenceID}, true
	case "MoveCorkboard":
		return session.MoveCorkboard{EvidenceID: m.EvidenceID, Pos: session.Position{X: m.X, Y: m.Y}}, true
	case "StartGame":
		return session.StartGame{}, true
	case "ApproveJoin":
		return session.ApproveJoin{PlayerID: m.PlayerID}, true
	case "DenyJoin":
		return session.DenyJoin{PlayerID: m.PlayerID, Reason: m.Reason}, true
	case "KickPlayer":
		return session.KickPlayer{PlayerID: m.PlayerID}, true
	case "ResetGame":
		return session.ResetGame{}, true
	default:
		return nil, false
	}
}

func writeAnswer(ctx context.Context, conn *websocket.Conn, ar session.AnswerReply) {
	msg := types.ServerMessage{Type: "AnswerResult", Result: &ar.Result}
	if ar.Err != nil {
		msg.Error = ar.Err.Error()
	}
	payload, _ := json.Marshal(msg)
	_ = conn.Write(ctx, websocket.MessageText, payload)
}

func writeError(ctx context.Context, conn *websocket.Conn, text string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: "Error", Error: text})
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
