package service

import (
	"context"

	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
)

type RoomInteractor interface {
	CreateRoom(ctx context.Context, hostName string) (*domain.Session, error)
	JoinRoom(ctx context.Context, code, name string) (*domain.Session, error)
	Connect(ctx context.Context, sess *domain.Session) (*domain.Room, bool, error)
	LeaveRoom(ctx context.Context, sess *domain.Session) error
	PostMessage(ctx context.Context, sess *domain.Session, text string) (domain.ChatMessage, error)
	SubmitSurvey(ctx context.Context, sess *domain.Session, survey domain.Survey) (domain.SurveyStatus, error)
	SurveyStatus(ctx context.Context, code string) (domain.SurveyStatus, error)
	StartChat(ctx context.Context, sess *domain.Session) error
	RecordChoice(ctx context.Context, sess *domain.Session, movieID, choice string) (ChoiceResult, error)
	Feed(ctx context.Context, sess *domain.Session) ([]domain.FeedItem, error)
	InitialFeed(ctx context.Context, sess *domain.Session) ([]domain.FeedItem, error)
	Room(ctx context.Context, code string) (*domain.Room, error)
	TopMovies(room *domain.Room) []domain.TopMovie
}

// FeedBuilder computes member feeds from a room snapshot.
type FeedBuilder interface {
	Feed(ctx context.Context, room *domain.Room, memberID string) ([]domain.FeedItem, error)
	InitialFeed(ctx context.Context, room *domain.Room, memberID string) ([]domain.FeedItem, error)
}

// Suggester proposes catalog titles for free-text preferences. It returns an
// empty list when it cannot help.
type Suggester interface {
	Suggest(ctx context.Context, preferences string, catalog []string) []domain.MovieStub
}
