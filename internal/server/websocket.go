package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelbrown/pylab/internal/orchestrator"
)

const maxConsoleMessageBytes = 1 << 20

// wsIncoming is a message from the client.
type wsIncoming struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // "execute" or "submit"
	Code      string `json:"code"`
	ProblemID int64  `json:"problem_id"`
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	ID    string `json:"id"`
	Type  string `json:"type"` // "result", "submission" or "error"
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(s.origins) == 0 ||
				slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin)
		},
	}
}

// handleWebSocket serves the practice console. Messages on one connection
// are handled in order, so at most one execution runs per console.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxConsoleMessageBytes)

	console := s.consoles.Open(userID(r.Context()), conn)
	defer s.consoles.Remove(console.ID)

	log := s.log.With(zap.String("console_id", console.ID), zap.Int64("user_id", console.UserID))
	log.Debug("console opened")

	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				console.ctx.Err() == nil {
				log.Debug("console read ended", zap.Error(err))
			}
			return
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}

		out := s.processConsoleMessage(console, msg)
		if err := wsWriteJSON(conn, out); err != nil {
			log.Debug("console write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) processConsoleMessage(c *Console, msg wsIncoming) wsOutgoing {
	switch msg.Type {
	case "execute":
		res, err := s.svc.Execute(c.ctx, msg.Code)
		if err != nil {
			return s.consoleError(msg.ID, err)
		}
		return wsOutgoing{ID: msg.ID, Type: "result", Data: res}

	case "submit":
		res, err := s.svc.Submit(c.ctx, c.UserID, msg.ProblemID, msg.Code)
		if err != nil {
			return s.consoleError(msg.ID, err)
		}
		return wsOutgoing{ID: msg.ID, Type: "submission", Data: res}

	default:
		return wsOutgoing{ID: msg.ID, Type: "error", Error: "invalid message type"}
	}
}

func (s *Server) consoleError(id string, err error) wsOutgoing {
	status, msg := failure(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("console request failed", zap.String("message_id", id), zap.Error(err))
	}

	out := wsOutgoing{ID: id, Type: "error", Error: msg}
	var perr *orchestrator.PersistenceError
	if errors.As(err, &perr) {
		out.Data = map[string]any{"execution_result": perr.Result}
	}
	return out
}

func wsWriteJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
