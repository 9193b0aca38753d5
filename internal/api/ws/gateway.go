package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
	"github.com/nirvaankohli/north-pole-consensus/internal/metrics"
	"github.com/nirvaankohli/north-pole-consensus/internal/recommend"
	"github.com/nirvaankohli/north-pole-consensus/internal/repository"
	"github.com/nirvaankohli/north-pole-consensus/internal/service"
	"github.com/nirvaankohli/north-pole-consensus/lib/logger/sl"
)

const (
	eventTimeout = 30 * time.Second

	enteredMessage  = "has entered the room"
	leftMessage     = "has left the room"
	surveyReceived  = "Survey received"
	surveyRejected  = "Survey could not be saved"
	resultFailed    = "failed"
	resultOK        = "ok"
	resultRejected  = "rejected"
	resultIgnored   = "ignored"
	resultMalformed = "malformed"
)

type Config struct {
	MessagesPerSecond float64
	Burst             int
	AllowedOrigins    []string
}

// Gateway turns websocket frames into room operations and fans the results
// out through the hub.
type Gateway struct {
	rooms    service.RoomInteractor
	hub      *Hub
	cfg      Config
	upgrader websocket.Upgrader
	validate *validator.Validate
	log      *slog.Logger
}

func NewGateway(rooms service.RoomInteractor, hub *Hub, cfg Config, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		rooms:    rooms,
		hub:      hub,
		cfg:      cfg,
		validate: validator.New(),
		log:      log,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Serve upgrades the request and runs the connection until it closes. The
// session must already be authenticated by the caller.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, sess *domain.Session) {
	const op = "ws.gateway.serve"
	log := g.log.With(slog.String("op", op))

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", sl.Err(err))
		return
	}

	if !sess.Valid() {
		log.Debug("connection without a session")
		closeWith(conn, websocket.ClosePolicyViolation, "no session")
		metrics.RecordEvent(domain.EventConnect, resultRejected)
		return
	}
	log = log.With(slog.String("room", sess.Room), slog.String("member_id", sess.MemberID))

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	_, _, err = g.rooms.Connect(ctx, sess)
	cancel()
	if err != nil {
		log.Debug("connection refused", sl.Err(err))
		closeWith(conn, websocket.ClosePolicyViolation, connectRefusal(err))
		metrics.RecordEvent(domain.EventConnect, resultRejected)
		return
	}

	c := newClient(conn, *sess, rate.NewLimiter(rate.Limit(g.cfg.MessagesPerSecond), g.cfg.Burst), log)
	g.hub.Register(c)
	go c.writePump()

	metrics.RecordEvent(domain.EventConnect, resultOK)
	g.hub.Broadcast(c.room, chatEvent(sess.Name, enteredMessage), nil)
	log.Info("member connected")

	c.readPump(g.handle)

	g.hub.Unregister(c)
	metrics.RecordEvent(domain.EventDisconnect, resultOK)
	if !c.left {
		g.hub.Broadcast(c.room, chatEvent(sess.Name, leftMessage), nil)
	}
	log.Info("member disconnected")
}

// Close drops every live connection.
func (g *Gateway) Close() {
	g.hub.Close()
}

// handle dispatches one inbound frame. It returns false when the connection
// should be closed.
func (g *Gateway) handle(c *Client, event domain.InboundEvent) bool {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	var result string
	keepOpen := true

	switch event.Event {
	case domain.EventMessage:
		result = g.onMessage(ctx, c, event.Data)
	case domain.EventSurvey:
		result = g.onSurvey(ctx, c, event.Data)
	case domain.EventStartChat:
		result = g.onStartChat(ctx, c)
	case domain.EventMovieChoice:
		result = g.onMovieChoice(ctx, c, event.Data)
	case domain.EventGetUpdatedFeed:
		result = g.onGetUpdatedFeed(ctx, c)
	case domain.EventCheckSurveys:
		result = g.onCheckSurveys(ctx, c)
	case domain.EventLeaveRoom:
		result = g.onLeaveRoom(ctx, c)
		keepOpen = result != resultOK
	case domain.EventDisconnect:
		result = resultOK
		keepOpen = false
	case domain.EventConnect:
		result = resultIgnored
	default:
		c.log.Debug("unknown event", slog.String("event", event.Event))
		metrics.RecordEvent("unknown", resultIgnored)
		return true
	}

	metrics.RecordEvent(event.Event, result)
	return keepOpen
}

func (g *Gateway) onMessage(ctx context.Context, c *Client, data json.RawMessage) string {
	var req domain.MessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return resultMalformed
	}

	msg, err := g.rooms.PostMessage(ctx, c.Session(), req.Data)
	if err != nil {
		if ignorable(err) {
			c.log.Debug("message not posted", sl.Err(err))
			return resultIgnored
		}
		c.log.Warn("failed to post message", sl.Err(err))
		return resultFailed
	}

	g.hub.Broadcast(c.room, chatEvent(msg.SenderName, msg.Text), nil)
	return resultOK
}

func (g *Gateway) onSurvey(ctx context.Context, c *Client, data json.RawMessage) string {
	var req domain.SurveyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.hub.Send(c, surveyReceivedEvent(false, surveyRejected))
		return resultMalformed
	}
	if err := g.validate.Struct(req); err != nil {
		g.hub.Send(c, surveyReceivedEvent(false, surveyRejected))
		return resultRejected
	}

	status, err := g.rooms.SubmitSurvey(ctx, c.Session(), domain.Survey{
		Preferences: req.Data.Preferences,
		MinRating:   req.Data.MinRating,
	})
	if err != nil {
		if ignorable(err) {
			c.log.Debug("survey not stored", sl.Err(err))
			return resultIgnored
		}
		c.log.Warn("failed to store survey", sl.Err(err))
		g.hub.Send(c, surveyReceivedEvent(false, surveyRejected))
		return resultFailed
	}

	g.hub.Send(c, surveyReceivedEvent(true, surveyReceived))
	g.hub.Broadcast(c.room, domain.OutboundEvent{Event: domain.EventAllSurveysComplete, Data: status}, nil)
	return resultOK
}

func (g *Gateway) onStartChat(ctx context.Context, c *Client) string {
	err := g.rooms.StartChat(ctx, c.Session())
	switch {
	case err == nil:
		g.hub.Broadcast(c.room, domain.OutboundEvent{Event: domain.EventChatStarted}, nil)
		return resultOK
	case errors.Is(err, domain.ErrChatAlreadyStarted):
		return resultIgnored
	case errors.Is(err, domain.ErrNotHost), errors.Is(err, domain.ErrSurveysIncomplete):
		g.hub.Send(c, domain.OutboundEvent{
			Event: domain.EventStartChatError,
			Data:  domain.StartChatErrorPayload{Message: startChatMessage(err)},
		})
		return resultRejected
	case ignorable(err):
		c.log.Debug("start ignored", sl.Err(err))
		return resultIgnored
	default:
		c.log.Warn("failed to start chat", sl.Err(err))
		return resultFailed
	}
}

func (g *Gateway) onMovieChoice(ctx context.Context, c *Client, data json.RawMessage) string {
	var req domain.MovieChoiceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return resultMalformed
	}
	if err := g.validate.Struct(req); err != nil {
		return resultRejected
	}

	res, err := g.rooms.RecordChoice(ctx, c.Session(), req.MovieID, req.Choice)
	if err != nil {
		if ignorable(err) || errors.Is(err, service.ErrUnknownMovie) || errors.Is(err, domain.ErrInvalidChoice) {
			c.log.Debug("choice not recorded", sl.Err(err))
			return resultIgnored
		}
		c.log.Warn("failed to record choice", sl.Err(err))
		return resultFailed
	}

	switch {
	case res.VotingComplete:
		g.hub.Broadcast(c.room, domain.OutboundEvent{
			Event: domain.EventVotingComplete,
			Data: domain.VotingCompletePayload{
				TopMovies: res.TopMovies,
				Message:   res.Message,
			},
		}, nil)
	case res.FeedUpdate:
		g.hub.Broadcast(c.room, domain.OutboundEvent{
			Event: domain.EventFeedUpdate,
			Data:  domain.FeedUpdatePayload{MemberID: c.sess.MemberID},
		}, c)
	}
	return resultOK
}

func (g *Gateway) onGetUpdatedFeed(ctx context.Context, c *Client) string {
	movies, err := g.rooms.Feed(ctx, c.Session())
	if err != nil {
		if ignorable(err) {
			c.log.Debug("feed not built", sl.Err(err))
			return resultIgnored
		}
		c.log.Warn("failed to build feed", sl.Err(err))
		return resultFailed
	}

	g.hub.Send(c, domain.OutboundEvent{
		Event: domain.EventUpdatedFeed,
		Data:  domain.UpdatedFeedPayload{Movies: movies},
	})
	return resultOK
}

func (g *Gateway) onCheckSurveys(ctx context.Context, c *Client) string {
	status, err := g.rooms.SurveyStatus(ctx, c.room)
	if err != nil {
		if ignorable(err) {
			return resultIgnored
		}
		c.log.Warn("failed to read survey status", sl.Err(err))
		return resultFailed
	}

	g.hub.Broadcast(c.room, domain.OutboundEvent{Event: domain.EventAllSurveysComplete, Data: status}, nil)
	return resultOK
}

func (g *Gateway) onLeaveRoom(ctx context.Context, c *Client) string {
	if err := g.rooms.LeaveRoom(ctx, c.Session()); err != nil {
		if ignorable(err) {
			c.log.Debug("leave ignored", sl.Err(err))
			return resultIgnored
		}
		c.log.Warn("failed to leave room", sl.Err(err))
		return resultFailed
	}

	c.left = true
	g.hub.Broadcast(c.room, chatEvent(c.sess.Name, leftMessage), nil)
	return resultOK
}

// ignorable reports errors caused by a room or member that no longer
// exists, or by an event that does not apply in the current phase.
func ignorable(err error) bool {
	return errors.Is(err, repository.ErrRoomNotFound) ||
		errors.Is(err, domain.ErrMemberNotFound) ||
		errors.Is(err, recommend.ErrMemberNotFound) ||
		errors.Is(err, domain.ErrChatNotStarted) ||
		errors.Is(err, domain.ErrSurveyMarker) ||
		errors.Is(err, domain.ErrEmptyMessage) ||
		errors.Is(err, service.ErrMessageTooLong) ||
		errors.Is(err, service.ErrInvalidSession)
}

func startChatMessage(err error) string {
	if errors.Is(err, domain.ErrNotHost) {
		return "Only the host can start the chat."
	}
	return "Not all members have completed the survey."
}

func connectRefusal(err error) string {
	switch {
	case errors.Is(err, repository.ErrRoomNotFound):
		return "room does not exist"
	case errors.Is(err, domain.ErrRoomStarted):
		return "room has already started"
	default:
		return "connection refused"
	}
}

func chatEvent(name, message string) domain.OutboundEvent {
	return domain.OutboundEvent{
		Event: domain.EventMessage,
		Data:  domain.ChatPayload{Name: name, Message: message},
	}
}

func surveyReceivedEvent(success bool, message string) domain.OutboundEvent {
	return domain.OutboundEvent{
		Event: domain.EventSurveyReceived,
		Data:  domain.SurveyReceivedPayload{Success: success, Message: message},
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
