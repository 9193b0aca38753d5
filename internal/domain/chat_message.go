package domain

import (
	"strings"
	"time"
)

// SurveyMarkerPrefix tags client generated chat lines that only signal survey
// progress. They are never stored or broadcast.
const SurveyMarkerPrefix = "__survey__"

type ChatMessage struct {
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
}

func NewChatMessage(senderName, text string) ChatMessage {
	return ChatMessage{
		SenderName: senderName,
		Text:       text,
		SentAt:     time.Now().UTC(),
	}
}

func IsSurveyMarker(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), SurveyMarkerPrefix)
}
