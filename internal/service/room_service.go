package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/nirvaankohli/north-pole-consensus/internal/catalog"
	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
	"github.com/nirvaankohli/north-pole-consensus/internal/metrics"
	"github.com/nirvaankohli/north-pole-consensus/internal/repository"
	"github.com/nirvaankohli/north-pole-consensus/lib/logger/sl"
)

var (
	ErrNameRequired    = errors.New("please enter a name")
	ErrCodeRequired    = errors.New("please enter a room code")
	ErrInvalidSession  = errors.New("session has no room or member")
	ErrUnknownMovie    = errors.New("movie is not in the catalog")
	ErrMessageTooLong  = errors.New("chat message is too long")
	ErrNameTooLong     = errors.New("name is too long")
	ErrCodeUnavailable = errors.New("could not allocate a free room code")

	// errUnchanged lets an update callback skip the save.
	errUnchanged = errors.New("room unchanged")
)

const (
	maxChatMessageLength = 4000
	maxNameLength        = 64
	maxCodeAttempts      = 32
)

// ChoiceResult tells the caller what to announce after a vote.
// VotingComplete is set only for the vote that ended the round. FeedUpdate is
// set while voting continues and every member has made at least
// domain.EarlyVoteThreshold choices.
type ChoiceResult struct {
	VotingComplete bool
	TopMovies      []domain.TopMovie
	Message        string
	FeedUpdate     bool
}

type RoomService struct {
	rooms     repository.RoomRepository
	feeds     FeedBuilder
	suggester Suggester
	catalog   *catalog.Catalog
	log       *slog.Logger
	locks     *keyedMutex
}

func NewRoomService(
	rooms repository.RoomRepository,
	feeds FeedBuilder,
	suggester Suggester,
	cat *catalog.Catalog,
	log *slog.Logger,
) *RoomService {
	if log == nil {
		log = slog.Default()
	}
	return &RoomService{
		rooms:     rooms,
		feeds:     feeds,
		suggester: suggester,
		catalog:   cat,
		log:       log,
		locks:     newKeyedMutex(),
	}
}

func (s *RoomService) CreateRoom(ctx context.Context, hostName string) (*domain.Session, error) {
	const op = "service.room.create"
	log := s.log.With(slog.String("op", op))

	name, err := cleanName(hostName)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := domain.GenerateCode()
		sess := domain.NewSession(name, code)
		room := domain.NewRoom(code, sess.MemberID, sess.Name)

		if err := s.rooms.Create(ctx, room); err != nil {
			if errors.Is(err, repository.ErrRoomExists) {
				log.Debug("room code collision", slog.String("room", code))
				continue
			}
			log.Error("failed to create room", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		metrics.RoomsCreated.Inc()
		log.Info("room created", slog.String("room", code), slog.String("host", sess.MemberID))
		return sess, nil
	}

	return nil, ErrCodeUnavailable
}

// JoinRoom registers a new member in an existing room that has not started.
func (s *RoomService) JoinRoom(ctx context.Context, code, name string) (*domain.Session, error) {
	const op = "service.room.join"

	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrCodeRequired
	}

	sess := domain.NewSession(name, code)
	_, err = s.update(ctx, code, func(room *domain.Room) error {
		_, err := room.Join(sess.MemberID, sess.Name)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("member joined",
		slog.String("op", op),
		slog.String("room", code),
		slog.String("member_id", sess.MemberID),
	)
	return sess, nil
}

// Connect attaches a live connection to its room, registering the member if
// they are missing and the room has not started. It reports whether the
// member was added.
func (s *RoomService) Connect(ctx context.Context, sess *domain.Session) (*domain.Room, bool, error) {
	if !sess.Valid() {
		return nil, false, ErrInvalidSession
	}

	joined := false
	room, err := s.update(ctx, sess.Room, func(room *domain.Room) error {
		added, err := room.Join(sess.MemberID, sess.Name)
		if err != nil {
			return err
		}
		if !added {
			return errUnchanged
		}
		joined = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return room, joined, nil
}

func (s *RoomService) LeaveRoom(ctx context.Context, sess *domain.Session) error {
	const op = "service.room.leave"
	if !sess.Valid() {
		return ErrInvalidSession
	}

	room, err := s.update(ctx, sess.Room, func(room *domain.Room) error {
		return room.Leave(sess.MemberID)
	})
	if err != nil {
		return err
	}

	s.log.Info("member left",
		slog.String("op", op),
		slog.String("room", room.Code),
		slog.String("member_id", sess.MemberID),
		slog.String("host", room.Host),
	)
	return nil
}

func (s *RoomService) PostMessage(ctx context.Context, sess *domain.Session, text string) (domain.ChatMessage, error) {
	if !sess.Valid() {
		return domain.ChatMessage{}, ErrInvalidSession
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > maxChatMessageLength {
		return domain.ChatMessage{}, ErrMessageTooLong
	}

	var msg domain.ChatMessage
	_, err := s.update(ctx, sess.Room, func(room *domain.Room) error {
		var err error
		msg, err = room.AddMessage(sess.Name, text)
		return err
	})
	return msg, err
}

// SubmitSurvey stores the member's answers and asks the suggester for titles
// matching the preferences. The suggester runs outside the room lock.
func (s *RoomService) SubmitSurvey(ctx context.Context, sess *domain.Session, survey domain.Survey) (domain.SurveyStatus, error) {
	const op = "service.room.submitSurvey"
	if !sess.Valid() {
		return domain.SurveyStatus{}, ErrInvalidSession
	}
	log := s.log.With(
		slog.String("op", op),
		slog.String("room", sess.Room),
		slog.String("member_id", sess.MemberID),
	)

	room, err := s.update(ctx, sess.Room, func(room *domain.Room) error {
		if err := room.SetSurvey(sess.MemberID, survey); err != nil {
			return err
		}
		if survey.Preferences == nil {
			return room.SetSuggestions(sess.MemberID, nil)
		}
		return nil
	})
	if err != nil {
		return domain.SurveyStatus{}, err
	}
	status := room.SurveyStatus()

	if survey.Preferences == nil || s.suggester == nil {
		return status, nil
	}

	stubs := s.resolveStubs(s.suggester.Suggest(ctx, *survey.Preferences, s.catalog.Titles()))
	_, err = s.update(ctx, sess.Room, func(room *domain.Room) error {
		return room.SetSuggestions(sess.MemberID, stubs)
	})
	if err != nil {
		log.Warn("failed to store suggestions", sl.Err(err))
		return status, nil
	}

	log.Info("survey stored", slog.Int("suggestions", len(stubs)), slog.Int("pending", status.Pending))
	return status, nil
}

// resolveStubs keeps the suggested titles the catalog knows and takes their
// year from the catalog row.
func (s *RoomService) resolveStubs(stubs []domain.MovieStub) []domain.MovieStub {
	out := make([]domain.MovieStub, 0, len(stubs))
	for _, stub := range stubs {
		m, ok := s.catalog.ByTitle(stub.Title)
		if !ok {
			continue
		}
		out = append(out, domain.MovieStub{Title: m.Title, Year: m.Year})
	}
	return out
}

func (s *RoomService) SurveyStatus(ctx context.Context, code string) (domain.SurveyStatus, error) {
	room, err := s.rooms.Load(ctx, normalizeCode(code))
	if err != nil {
		return domain.SurveyStatus{}, err
	}
	return room.SurveyStatus(), nil
}

func (s *RoomService) StartChat(ctx context.Context, sess *domain.Session) error {
	const op = "service.room.startChat"
	if !sess.Valid() {
		return ErrInvalidSession
	}

	_, err := s.update(ctx, sess.Room, func(room *domain.Room) error {
		return room.StartChat(sess.MemberID)
	})
	if err != nil {
		return err
	}

	s.log.Info("voting started", slog.String("op", op), slog.String("room", sess.Room))
	return nil
}

func (s *RoomService) RecordChoice(ctx context.Context, sess *domain.Session, movieID, rawChoice string) (ChoiceResult, error) {
	const op = "service.room.recordChoice"
	if !sess.Valid() {
		return ChoiceResult{}, ErrInvalidSession
	}

	choice, err := domain.ParseChoice(rawChoice)
	if err != nil {
		return ChoiceResult{}, err
	}
	if _, ok := s.catalog.Get(movieID); !ok {
		return ChoiceResult{}, ErrUnknownMovie
	}

	var outcome domain.VotingOutcome
	room, err := s.update(ctx, sess.Room, func(room *domain.Room) error {
		var err error
		outcome, err = room.RecordChoice(sess.MemberID, movieID, choice)
		return err
	})
	if err != nil {
		return ChoiceResult{}, err
	}
	metrics.VotesRecorded.WithLabelValues(string(choice)).Inc()

	if outcome.Completed {
		result := ChoiceResult{
			VotingComplete: true,
			TopMovies:      s.topMovies(outcome.Results),
		}
		if len(result.TopMovies) == 0 {
			result.Message = domain.NoWinnerReply
		}
		metrics.RecordVotingCompleted(len(result.TopMovies) > 0)
		s.log.Info("voting complete",
			slog.String("op", op),
			slog.String("room", room.Code),
			slog.Int("results", len(result.TopMovies)),
		)
		return result, nil
	}

	return ChoiceResult{
		FeedUpdate: outcome.EveryoneAtEarlyThreshold && !room.VotingComplete,
	}, nil
}

func (s *RoomService) Feed(ctx context.Context, sess *domain.Session) ([]domain.FeedItem, error) {
	if !sess.Valid() {
		return nil, ErrInvalidSession
	}
	room, err := s.rooms.Load(ctx, sess.Room)
	if err != nil {
		return nil, err
	}
	return s.feeds.Feed(ctx, room, sess.MemberID)
}

func (s *RoomService) InitialFeed(ctx context.Context, sess *domain.Session) ([]domain.FeedItem, error) {
	if !sess.Valid() {
		return nil, ErrInvalidSession
	}
	room, err := s.rooms.Load(ctx, sess.Room)
	if err != nil {
		return nil, err
	}
	return s.feeds.InitialFeed(ctx, room, sess.MemberID)
}

func (s *RoomService) Room(ctx context.Context, code string) (*domain.Room, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrCodeRequired
	}
	return s.rooms.Load(ctx, code)
}

// TopMovies resolves a finished room's results against the catalog.
func (s *RoomService) TopMovies(room *domain.Room) []domain.TopMovie {
	if room == nil {
		return nil
	}
	return s.topMovies(room.Results)
}

func (s *RoomService) topMovies(tallies []domain.LikeTally) []domain.TopMovie {
	out := make([]domain.TopMovie, 0, len(tallies))
	for _, t := range tallies {
		m, ok := s.catalog.Get(t.MovieID)
		if !ok {
			m = domain.Movie{ID: t.MovieID, Title: domain.PlaceholderValue}
		}
		out = append(out, domain.TopMovie{
			MovieID: m.ID,
			Title:   m.Title,
			Year:    m.Year,
			Rating:  m.Rating,
			Likes:   t.Likes,
		})
	}
	return out
}

// update runs fn against a fresh snapshot of the room while holding the
// room's lock and saves the result. fn may return errUnchanged to skip the
// save.
func (s *RoomService) update(ctx context.Context, code string, fn func(room *domain.Room) error) (*domain.Room, error) {
	unlock := s.locks.Lock(code)
	defer unlock()

	room, err := s.rooms.Load(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := fn(room); err != nil {
		if errors.Is(err, errUnchanged) {
			return room, nil
		}
		return nil, err
	}

	if err := s.rooms.Save(ctx, room); err != nil {
		s.log.Error("failed to save room", slog.String("room", code), sl.Err(err))
		return nil, fmt.Errorf("save room %s: %w", code, err)
	}
	return room, nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
