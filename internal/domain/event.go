package domain

import "github.com/goccy/go-json"

// Inbound event names.
const (
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventMessage        = "message"
	EventSurvey         = "survey"
	EventStartChat      = "start_chat"
	EventMovieChoice    = "movie_choice"
	EventGetUpdatedFeed = "get_updated_feed"
	EventCheckSurveys   = "check_all_surveys_complete"
	EventLeaveRoom      = "leave_room"
)

// Outbound event names.
const (
	EventSurveyReceived     = "survey_received"
	EventAllSurveysComplete = "all_surveys_complete"
	EventChatStarted        = "chat_started"
	EventStartChatError     = "start_chat_error"
	EventVotingComplete     = "voting_complete"
	EventFeedUpdate         = "feed_update"
	EventUpdatedFeed        = "updated_feed"
)

// InboundEvent is a frame read from a client connection.
type InboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEvent is a frame written to client connections.
type OutboundEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type ChatPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type MessageRequest struct {
	Data string `json:"data"`
}

type SurveyRequest struct {
	Data struct {
		Preferences *string  `json:"preferences" validate:"omitempty,max=500"`
		MinRating   *float64 `json:"minRating" validate:"omitempty,gte=0,lte=10"`
	} `json:"data"`
}

type MovieChoiceRequest struct {
	MovieID string `json:"movie_id" validate:"required"`
	Choice  string `json:"choice" validate:"required,oneof=like dislike"`
}

type SurveyReceivedPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StartChatErrorPayload struct {
	Message string `json:"message"`
}

type VotingCompletePayload struct {
	TopMovies []TopMovie `json:"top_movies"`
	Message   string     `json:"message,omitempty"`
}

type FeedUpdatePayload struct {
	MemberID string `json:"member_id"`
}

type UpdatedFeedPayload struct {
	Movies []FeedItem `json:"movies"`
}
