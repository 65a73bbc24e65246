package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// wsResponse is the outgoing websocket message. Exactly one of the answer
// fields or Error is set.
type wsResponse struct {
	*chatResponse
	Error  string `json:"error,omitempty"`
	Status int    `json:"status,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.originAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	log := hlog.FromRequest(r)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket read")
			}
			return
		}

		var req chatRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.sendError(conn, log, http.StatusBadRequest, "invalid message format")
			continue
		}

		resp, status, err := s.answer(r.Context(), req)
		if err != nil {
			log.Warn().Err(err).Int("status", status).Msg("websocket question failed")
			s.sendError(conn, log, status, err.Error())
			continue
		}
		if err := conn.WriteJSON(wsResponse{chatResponse: resp}); err != nil {
			log.Warn().Err(err).Msg("websocket write")
			return
		}
	}
}

func (s *Server) sendError(conn *websocket.Conn, log *zerolog.Logger, status int, message string) {
	if err := conn.WriteJSON(wsResponse{Error: message, Status: status}); err != nil {
		log.Warn().Err(err).Msg("websocket write error")
	}
}
