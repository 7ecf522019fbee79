package domain

import "time"

type MessageID string

// Message is the persisted chat record. Its JSON form is the chat outbound
// wire format, sent verbatim to every room member.
type Message struct {
	ID        MessageID `json:"id"`
	Room      RoomID    `json:"room"`
	Body      string    `json:"message"`
	CreatedBy User      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}
