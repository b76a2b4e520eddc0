package model

import "time"

// Message is a chat message in a batch room.
//
// SenderName is denormalised so a message list renders without a user lookup.
type Message struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batchId"`
	SenderRoll string    `json:"senderRoll"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	IsSystem   bool      `json:"isSystem,omitempty"`
}
