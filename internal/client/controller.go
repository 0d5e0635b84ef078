// Package client drives a conversation against the relay from the consumer side.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/zhouzirui/gita-chat/backend/internal/model/chat"
	"github.com/zhouzirui/gita-chat/backend/pkg/sse"
)

// ErrorMessage replaces the assistant placeholder when a request fails.
const ErrorMessage = "Sorry, I encountered an error processing your request."

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrRequestInFlight = errors.New("a request is already in flight")
	ErrStreamTruncated = errors.New("stream ended without terminal marker")
)

// Turn 对话中的一条消息
type Turn struct {
	ID        string
	Role      chat.Role
	Content   string
	Streaming bool
}

// Conversation 客户端持有的对话状态，不可并发使用。
type Conversation struct {
	SessionID string
	Turns     []Turn
	Loading   bool
}

// NewConversation 创建带随机会话ID的空对话
func NewConversation() *Conversation {
	return &Conversation{SessionID: uuid.NewString()}
}

// Controller 通过 HTTP 调用中继服务
type Controller struct {
	baseURL    string
	httpClient *http.Client

	// OnUpdate is called synchronously after every change to the conversation.
	OnUpdate func(conv *Conversation)
}

// NewController creates a controller for the relay at baseURL. httpClient may be nil.
func NewController(baseURL string, httpClient *http.Client) *Controller {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Controller{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Send 发送一条用户消息并把流式回复追加到占位消息中
func (c *Controller) Send(ctx context.Context, conv *Conversation, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if conv.Loading {
		return ErrRequestInFlight
	}

	history := make([]chat.Message, 0, len(conv.Turns)+1)
	for _, turn := range conv.Turns {
		history = append(history, chat.Message{Role: turn.Role, Content: turn.Content})
	}
	history = append(history, chat.Message{Role: chat.RoleUser, Content: text})

	conv.Turns = append(conv.Turns,
		Turn{ID: uuid.NewString(), Role: chat.RoleUser, Content: text},
		Turn{ID: uuid.NewString(), Role: chat.RoleAssistant, Streaming: true},
	)
	placeholder := len(conv.Turns) - 1
	conv.Loading = true
	c.notify(conv)

	err := c.stream(ctx, chat.Request{Messages: history, SessionID: conv.SessionID}, func(delta string) {
		conv.Turns[placeholder].Content += delta
		c.notify(conv)
	})
	if err != nil {
		log.Warn().Err(err).Str("session", conv.SessionID).Msg("[client] send failed")
		conv.Turns[placeholder].Content = ErrorMessage
	}

	conv.Turns[placeholder].Streaming = false
	conv.Loading = false
	c.notify(conv)
	return err
}

func (c *Controller) stream(ctx context.Context, body chat.Request, onDelta func(string)) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "post chat")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api error: %d: %s", resp.StatusCode, gjson.GetBytes(detail, "details").String())
	}

	var (
		dec  sse.Decoder
		done bool
		buf  = make([]byte, 4096)
	)
	handle := func(data string) {
		if data == chat.DoneMarker {
			done = true
			return
		}
		// Fragments that are not JSON objects are skipped.
		if !gjson.Valid(data) {
			return
		}
		if text := gjson.Get(data, "text").String(); text != "" {
			onDelta(text)
		}
	}

	for {
		n, readErr := resp.Body.Read(buf)
		for _, data := range dec.Feed(buf[:n]) {
			handle(data)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.Wrap(readErr, "read stream")
		}
	}
	if data, ok := dec.Flush(); ok {
		handle(data)
	}

	if !done {
		return ErrStreamTruncated
	}
	return nil
}

// Clear 通知服务端丢弃会话状态，并无条件清空本地消息
func (c *Controller) Clear(ctx context.Context, conv *Conversation) error {
	defer func() {
		conv.Turns = nil
		c.notify(conv)
	}()

	target := c.baseURL + "/api/chat?sessionId=" + url.QueryEscape(conv.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "delete session")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api error: %d", resp.StatusCode)
	}
	return nil
}

func (c *Controller) notify(conv *Conversation) {
	if c.OnUpdate != nil {
		c.OnUpdate(conv)
	}
}
