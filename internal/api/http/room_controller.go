package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/nirvaankohli/north-pole-consensus/internal/api/http/converter"
	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
	"github.com/nirvaankohli/north-pole-consensus/internal/repository"
	"github.com/nirvaankohli/north-pole-consensus/internal/service"
	"github.com/nirvaankohli/north-pole-consensus/lib/logger/sl"
)

const (
	msgNameRequired = "Please enter a name."
	msgCodeRequired = "Please enter a room code."
	msgRoomMissing  = "Room does not exist."
	msgRoomStarted  = "This room has already started."
	msgNameTooLong  = "That name is too long."
	msgUnexpected   = "Something went wrong, please try again."

	qrSize = 320
)

// Gateway runs a websocket connection for an authenticated session.
type Gateway interface {
	Serve(w http.ResponseWriter, r *http.Request, sess *domain.Session)
}

type RoomController struct {
	rooms    service.RoomInteractor
	sessions *SessionStore
	gateway  Gateway
	log      *slog.Logger
}

func NewRoomController(rooms service.RoomInteractor, sessions *SessionStore, gateway Gateway, log *slog.Logger) *RoomController {
	if log == nil {
		log = slog.Default()
	}
	return &RoomController{
		rooms:    rooms,
		sessions: sessions,
		gateway:  gateway,
		log:      log,
	}
}

type indexPage struct {
	Error string
	Name  string
	Code  string
}

type promptPage struct {
	Error string
	Name  string
	Code  string
}

type roomPage struct {
	Code      string
	Name      string
	IsHost    bool
	Phase     domain.Phase
	Messages  []converter.MessageResponse
	Feed      []domain.FeedItem
	TopMovies []domain.TopMovie
	NoWinner  string
}

// Index shows the landing page and forgets any previous session.
func (c *RoomController) Index(ctx *gin.Context) {
	c.sessions.Clear(ctx.Writer)
	ctx.HTML(http.StatusOK, "index.html", indexPage{})
}

// IndexSubmit creates a room when the form carries "create" and joins one
// otherwise.
func (c *RoomController) IndexSubmit(ctx *gin.Context) {
	const op = "http.room.indexSubmit"
	c.sessions.Clear(ctx.Writer)

	name := strings.TrimSpace(ctx.PostForm("name"))
	code := strings.TrimSpace(ctx.PostForm("code"))
	_, join := ctx.GetPostForm("join")
	_, create := ctx.GetPostForm("create")

	page := indexPage{Name: name, Code: code}
	if name == "" {
		page.Error = msgNameRequired
		ctx.HTML(http.StatusOK, "index.html", page)
		return
	}
	if join && code == "" {
		page.Error = msgCodeRequired
		ctx.HTML(http.StatusOK, "index.html", page)
		return
	}

	var (
		sess *domain.Session
		err  error
	)
	if create {
		sess, err = c.rooms.CreateRoom(ctx.Request.Context(), name)
	} else {
		sess, err = c.rooms.JoinRoom(ctx.Request.Context(), code, name)
	}
	if err != nil {
		page.Error = c.userMessage(op, err)
		ctx.HTML(http.StatusOK, "index.html", page)
		return
	}

	c.enterRoom(ctx, op, sess)
}

// PromptName asks for a name when the browser arrived through a room link.
func (c *RoomController) PromptName(ctx *gin.Context) {
	sess := c.sessions.Get(ctx.Request)
	if sess.Room == "" {
		ctx.Redirect(http.StatusFound, "/")
		return
	}
	ctx.HTML(http.StatusOK, "prompt_name.html", promptPage{Code: sess.Room})
}

func (c *RoomController) PromptNameSubmit(ctx *gin.Context) {
	const op = "http.room.promptNameSubmit"

	sess := c.sessions.Get(ctx.Request)
	if sess.Room == "" {
		ctx.Redirect(http.StatusFound, "/")
		return
	}

	name := strings.TrimSpace(ctx.PostForm("name"))
	if name == "" {
		ctx.HTML(http.StatusOK, "prompt_name.html", promptPage{Error: msgNameRequired, Code: sess.Room})
		return
	}

	joined, err := c.rooms.JoinRoom(ctx.Request.Context(), sess.Room, name)
	if err != nil {
		msg := c.userMessage(op, err)
		if errors.Is(err, repository.ErrRoomNotFound) {
			c.sessions.Clear(ctx.Writer)
			ctx.HTML(http.StatusOK, "index.html", indexPage{Error: msg, Name: name})
			return
		}
		ctx.HTML(http.StatusOK, "prompt_name.html", promptPage{Error: msg, Name: name, Code: sess.Room})
		return
	}

	c.enterRoom(ctx, op, joined)
}

// Room renders the room view with the member's first feed.
func (c *RoomController) Room(ctx *gin.Context) {
	const op = "http.room.view"
	log := c.log.With(slog.String("op", op))

	code := strings.ToUpper(strings.TrimSpace(ctx.Param("code")))
	sess := c.sessions.Get(ctx.Request)

	if sess.Room == "" {
		sess.Room = code
		if err := c.sessions.Save(ctx.Writer, ctx.Request, sess); err != nil {
			log.Error("failed to save session", sl.Err(err))
		}
	}
	if sess.Room != code {
		ctx.Redirect(http.StatusFound, "/room/"+sess.Room)
		return
	}
	if sess.Name == "" || sess.MemberID == "" {
		ctx.Redirect(http.StatusFound, "/prompt_name")
		return
	}

	room, err := c.rooms.Room(ctx.Request.Context(), code)
	if err != nil {
		c.sessions.Clear(ctx.Writer)
		ctx.HTML(http.StatusOK, "index.html", indexPage{Error: c.userMessage(op, err)})
		return
	}

	page := roomPage{
		Code:     room.Code,
		Name:     sess.Name,
		IsHost:   room.Host == sess.MemberID,
		Phase:    room.Phase(),
		Messages: converter.MessagesToApi(room.Messages),
	}

	if room.VotingComplete {
		page.TopMovies = c.rooms.TopMovies(room)
		if len(page.TopMovies) == 0 {
			page.NoWinner = domain.NoWinnerReply
		}
	} else if _, ok := room.Member(sess.MemberID); ok {
		feed, err := c.rooms.InitialFeed(ctx.Request.Context(), sess)
		if err != nil {
			log.Warn("failed to build initial feed", slog.String("room", code), sl.Err(err))
		}
		page.Feed = feed
	}

	ctx.HTML(http.StatusOK, "room.html", page)
}

// ClearSession drops the session and sends the browser to a known page.
func (c *RoomController) ClearSession(ctx *gin.Context) {
	c.sessions.Clear(ctx.Writer)

	switch ctx.Param("return_file") {
	case "prompt_name":
		ctx.Redirect(http.StatusFound, "/prompt_name")
	default:
		ctx.Redirect(http.StatusFound, "/")
	}
}

// RoomQR renders a PNG QR code pointing at the room page.
func (c *RoomController) RoomQR(ctx *gin.Context) {
	const op = "http.room.qr"

	room, err := c.rooms.Room(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		c.writeError(ctx, op, err)
		return
	}

	scheme := "http"
	if ctx.Request.TLS != nil {
		scheme = "https"
	}
	if proto := ctx.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	url := scheme + "://" + ctx.Request.Host + "/room/" + room.Code

	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		c.log.Error("qr generation failed", slog.String("op", op), sl.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "qr generation failed"})
		return
	}

	ctx.Data(http.StatusOK, "image/png", png)
}

func (c *RoomController) GetRoom(ctx *gin.Context) {
	const op = "http.room.get"

	room, err := c.rooms.Room(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		c.writeError(ctx, op, err)
		return
	}

	var top []domain.TopMovie
	if room.VotingComplete {
		top = c.rooms.TopMovies(room)
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(room, top)})
}

// ServeWS hands the connection to the gateway with the cookie's identity.
func (c *RoomController) ServeWS(ctx *gin.Context) {
	c.gateway.Serve(ctx.Writer, ctx.Request, c.sessions.Get(ctx.Request))
}

func (c *RoomController) enterRoom(ctx *gin.Context, op string, sess *domain.Session) {
	if err := c.sessions.Save(ctx.Writer, ctx.Request, sess); err != nil {
		c.log.Error("failed to save session", slog.String("op", op), sl.Err(err))
		ctx.HTML(http.StatusInternalServerError, "index.html", indexPage{Error: msgUnexpected, Name: sess.Name})
		return
	}
	ctx.Redirect(http.StatusFound, "/room/"+sess.Room)
}

func (c *RoomController) userMessage(op string, err error) string {
	switch {
	case errors.Is(err, service.ErrNameRequired):
		return msgNameRequired
	case errors.Is(err, service.ErrCodeRequired):
		return msgCodeRequired
	case errors.Is(err, service.ErrNameTooLong):
		return msgNameTooLong
	case errors.Is(err, repository.ErrRoomNotFound):
		return msgRoomMissing
	case errors.Is(err, domain.ErrRoomStarted):
		return msgRoomStarted
	default:
		c.log.Error("request failed", slog.String("op", op), sl.Err(err))
		return msgUnexpected
	}
}

func (c *RoomController) writeError(ctx *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrRoomNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": msgRoomMissing})
	case errors.Is(err, service.ErrCodeRequired):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": msgCodeRequired})
	default:
		c.log.Error("request failed", slog.String("op", op), sl.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
