package chat

import "time"

// Session binds a client session identifier to the upstream knowledge base session.
type Session struct {
	ID         string    `json:"id"`
	UpstreamID string    `json:"upstreamId"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
