package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Session is the identity a browser carries between the landing page and the
// room's websocket. There are no accounts beyond this random member id.
type Session struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name"`
	Room     string `json:"room"`
}

func NewSession(name, room string) *Session {
	return &Session{
		MemberID: uuid.New().String(),
		Name:     strings.TrimSpace(name),
		Room:     strings.ToUpper(strings.TrimSpace(room)),
	}
}

// Valid reports whether the session can be used to enter a room.
func (s *Session) Valid() bool {
	return s != nil && s.MemberID != "" && s.Name != "" && s.Room != ""
}
