package model

import "time"

// Note is a personal note owned by exactly one identity.
//
// A Note saved without an ID is created; resupplying the ID updates it in place.
type Note struct {
	ID        string    `json:"id"`
	OwnerRoll string    `json:"userRoll"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}
