package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"arena-quiz-service/internal/app"
	"arena-quiz-service/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSHandler upgrades HTTP requests to websockets and maps inbound frames
// onto the game use cases. Outbound traffic flows through the Hub.
type WSHandler struct {
	service  *app.GameService
	hub      *Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, hub *Hub, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID     int64  `json:"questionId"`
	SelectedOption string `json:"selectedOption"`
}

// ServeWS registers the connection under its room and player channels and
// then pumps inbound messages until the peer goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(r.URL.Query().Get("roomId"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid roomId", http.StatusBadRequest)
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	c := h.hub.register(roomID, userID, conn)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(h.log)
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			// Validation failures surface as player.error through the hub.
			_ = h.service.StartGame(r.Context(), roomID, userID)
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.hub.SendToPlayer(userID, domain.PlayerError{
					Message:   "invalid answer payload",
					Timestamp: time.Now(),
				})
				continue
			}
			_, _ = h.service.SubmitAnswer(r.Context(), roomID, userID, payload.QuestionID, payload.SelectedOption)
		default:
			h.hub.SendToPlayer(userID, domain.PlayerError{
				Message:   "unsupported message type",
				Timestamp: time.Now(),
			})
		}
	}

	// Unregister closes the send channel, which ends the writer.
	h.hub.unregister(c)
	<-writerDone
}
