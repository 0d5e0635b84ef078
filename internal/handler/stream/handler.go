package stream

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gita-chat/backend/internal/model/chat"
	"github.com/zhouzirui/gita-chat/backend/internal/service/relay"
	"github.com/zhouzirui/gita-chat/backend/pkg/utils"
)

const maxRequestBytes = 1 << 20

// Handler relays knowledge base answers to HTTP and WebSocket clients.
type Handler struct {
	relay        *relay.Relay
	errorMessage string
	upgrader     websocket.Upgrader
}

// New creates a new stream handler. errorMessage is the error field of every
// failure response.
func New(r *relay.Relay, errorMessage string) *Handler {
	return &Handler{
		relay:        r,
		errorMessage: errorMessage,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册流式聊天路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/ws", h.handleWebSocket)
}

// handleChat 以 SSE 的形式返回增量文本
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()

	var req chat.Request
	if err := decodeRequest(w, r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	stream, err := h.relay.Open(r.Context(), req)
	if err != nil {
		logger.Error().Err(err).Msg("error in chat api")
		status, body := h.failure(err)
		utils.RespondJSON(w, status, body)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		stream.Close()
		utils.RespondError(w, http.StatusInternalServerError, h.errorMessage, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if err := stream.Forward(&sseSink{w: w, flusher: flusher}); err != nil {
		logger.Error().Err(err).Msg("aborting event stream")
		// The status line is already out; abort so the client sees a truncated body.
		panic(http.ErrAbortHandler)
	}
}

// failure maps an Open error onto the response returned instead of a stream.
func (h *Handler) failure(err error) (int, utils.ErrorResponse) {
	if errors.Is(err, relay.ErrEmptyConversation) {
		return http.StatusBadRequest, utils.ErrorResponse{Error: "invalid request body", Details: err.Error()}
	}
	return http.StatusInternalServerError, utils.ErrorResponse{Error: h.errorMessage, Details: err.Error()}
}

func decodeRequest(w http.ResponseWriter, r *http.Request, req *chat.Request) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(req); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return nil
}

type sseSink struct {
	w       io.Writer
	flusher http.Flusher
}

func (s *sseSink) Delta(text string) error {
	return utils.SendSSEChunk(s.w, s.flusher, chat.Delta{Text: text})
}

func (s *sseSink) Done() error {
	return utils.SendSSEData(s.w, s.flusher, []byte(chat.DoneMarker))
}
