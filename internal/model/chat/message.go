package chat

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation as carried on the wire.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the relay request body.
type Request struct {
	Messages  []Message `json:"messages"`
	SessionID string    `json:"sessionId,omitempty"`
}

// Query returns the content of the last message, which is what gets sent upstream.
func (r Request) Query() (string, bool) {
	if len(r.Messages) == 0 {
		return "", false
	}
	return r.Messages[len(r.Messages)-1].Content, true
}

// Delta is the payload of every non-terminal stream frame.
type Delta struct {
	Text string `json:"text"`
}

// DoneMarker terminates every successful stream.
const DoneMarker = "[DONE]"
