package converter

import (
	"time"

	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
)

type RoomResponse struct {
	Code           string            `json:"code"`
	Phase          domain.Phase      `json:"phase"`
	ChatStarted    bool              `json:"chat_started"`
	VotingComplete bool              `json:"voting_complete"`
	Members        []MemberResponse  `json:"members"`
	Messages       []MessageResponse `json:"messages"`
	TopMovies      []domain.TopMovie `json:"top_movies,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

type MemberResponse struct {
	Name           string `json:"name"`
	IsHost         bool   `json:"is_host"`
	SurveyComplete bool   `json:"survey_complete"`
	Choices        int    `json:"choices"`
}

type MessageResponse struct {
	Name    string    `json:"name"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// RoomToApi builds the public view of a room. Member ids stay private.
func RoomToApi(r *domain.Room, top []domain.TopMovie) *RoomResponse {
	members := make([]MemberResponse, 0, len(r.Members))
	for _, id := range r.MemberIDs() {
		m := r.Members[id]
		members = append(members, MemberResponse{
			Name:           m.Name,
			IsHost:         id == r.Host,
			SurveyComplete: m.Survey.Complete(),
			Choices:        m.ChoiceCount(),
		})
	}

	return &RoomResponse{
		Code:           r.Code,
		Phase:          r.Phase(),
		ChatStarted:    r.ChatStarted,
		VotingComplete: r.VotingComplete,
		Members:        members,
		Messages:       MessagesToApi(r.Messages),
		TopMovies:      top,
		CreatedAt:      r.CreatedAt,
	}
}

func MessagesToApi(msgs []domain.ChatMessage) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			Name:    m.SenderName,
			Message: m.Text,
			SentAt:  m.SentAt,
		})
	}
	return out
}
