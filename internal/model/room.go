package model

import (
	"time"
)

// RoomSummary is one entry of a participant's conversation list.
type RoomSummary struct {
	ConversationID  string    `json:"conversationId"`
	PeerID          string    `json:"peerId"`
	SubjectEntityID string    `json:"subjectEntityId"`
	LastText        string    `json:"lastText"`
	LastAttachment  string    `json:"lastAttachment,omitempty"`
	LastSenderID    string    `json:"lastSenderId"`
	LastAt          time.Time `json:"lastAt"`
	UnreadCount     int       `json:"unreadCount"`

	// Catalog metadata, empty when no catalog is configured or the entity is unknown
	Title     string `json:"title,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// ListRoomsResponse is the response for listing rooms.
type ListRoomsResponse struct {
	Rooms []RoomSummary `json:"rooms"`
}
