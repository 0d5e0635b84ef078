package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/gita-chat/backend/internal/model/chat"
	"github.com/zhouzirui/gita-chat/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

var errSocketClosed = errors.New("socket closed by peer")

type socketRequest struct {
	req chat.Request
	err error
}

// handleWebSocket 处理WebSocket连接，每条文本消息都是一次完整的聊天请求
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[websocket] upgrade failed")
		return
	}
	defer conn.Close()

	log.Info().Str("remote", r.RemoteAddr).Msg("[websocket] new connection")

	g, ctx := errgroup.WithContext(r.Context())
	requests := make(chan socketRequest)

	g.Go(func() error {
		defer close(requests)
		return readRequests(ctx, conn, requests)
	})
	g.Go(func() error {
		for sr := range requests {
			if err := h.serveSocketRequest(ctx, conn, sr); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		return pingLoop(ctx, conn)
	})
	g.Go(func() error {
		// Unblocks the reader once any goroutine has failed.
		<-ctx.Done()
		return conn.Close()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errSocketClosed) {
		log.Warn().Err(err).Msg("[websocket] connection closed")
	}
}

// readRequests always returns a non-nil error so the group context is cancelled.
func readRequests(ctx context.Context, conn *websocket.Conn, out chan<- socketRequest) error {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return errors.Wrap(err, "set read deadline")
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errSocketClosed
			}
			return errors.Wrap(err, "read message")
		}

		var sr socketRequest
		sr.err = json.Unmarshal(data, &sr.req)

		select {
		case out <- sr:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Handler) serveSocketRequest(ctx context.Context, conn *websocket.Conn, sr socketRequest) error {
	if sr.err != nil {
		return writeSocketJSON(conn, utils.ErrorResponse{Error: "invalid request body", Details: sr.err.Error()})
	}

	stream, err := h.relay.Open(ctx, sr.req)
	if err != nil {
		log.Error().Err(err).Msg("[websocket] error in chat api")
		_, body := h.failure(err)
		return writeSocketJSON(conn, body)
	}

	if err := stream.Forward(&socketSink{conn: conn}); err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		return errors.Wrap(err, "forward stream")
	}
	return nil
}

func pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return errors.Wrap(err, "ping")
			}
		}
	}
}

func writeSocketJSON(conn *websocket.Conn, payload interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}

type socketSink struct {
	conn *websocket.Conn
}

func (s *socketSink) Delta(text string) error {
	return writeSocketJSON(s.conn, chat.Delta{Text: text})
}

func (s *socketSink) Done() error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(chat.DoneMarker))
}
