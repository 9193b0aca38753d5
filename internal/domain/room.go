package domain

import (
	"crypto/rand"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

var (
	ErrRoomStarted        = errors.New("room has already started")
	ErrMemberNotFound     = errors.New("member not found")
	ErrNotHost            = errors.New("only the host can start the room")
	ErrSurveysIncomplete  = errors.New("not every member has completed the survey")
	ErrChatAlreadyStarted = errors.New("chat has already started")
	ErrChatNotStarted     = errors.New("chat has not started")
	ErrSurveyMarker       = errors.New("survey marker messages are not stored")
	ErrEmptyMessage       = errors.New("message is empty")
)

const (
	codeLength    = 6
	codeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxTopMovies  = 3
	NoWinnerReply = "No movie found that everyone liked."
)

// The vote ends once every member made FullVoteThreshold choices, or
// EarlyVoteThreshold choices while some movie is liked by every member.
const (
	FullVoteThreshold  = 20
	EarlyVoteThreshold = 10
)

type Phase string

const (
	PhaseLobby     Phase = "lobby"
	PhaseSurveying Phase = "surveying"
	PhaseVoting    Phase = "voting"
	PhaseConcluded Phase = "concluded"
)

// LikerSet is the set of member ids that liked one movie. It is persisted as
// a sorted list.
type LikerSet map[string]struct{}

func (s LikerSet) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return json.Marshal(ids)
}

func (s *LikerSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	set := make(LikerSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	*s = set
	return nil
}

// LikeTally is one ranked entry of a finished vote.
type LikeTally struct {
	MovieID string `json:"movie_id"`
	Likes   int    `json:"likes"`
}

type SurveyStatus struct {
	Ready   bool `json:"ready"`
	Pending int  `json:"pending"`
}

// VotingOutcome describes what a recorded choice changed. Completed is true
// only for the choice that finished the vote.
type VotingOutcome struct {
	Completed                bool
	Results                  []LikeTally
	EveryoneAtEarlyThreshold bool
}

// Room is one party session. Instances handed out by a repository are
// snapshots: mutate them and save them back.
type Room struct {
	Code           string              `json:"code"`
	Host           string              `json:"host"`
	ChatStarted    bool                `json:"chat_started"`
	VotingComplete bool                `json:"voting_complete"`
	Members        map[string]*Member  `json:"members"`
	Messages       []ChatMessage       `json:"messages"`
	MutualLikes    map[string]LikerSet `json:"mutual_likes"`
	Results        []LikeTally         `json:"results,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// NewRoom creates a room whose first member is the host.
func NewRoom(code, hostID, hostName string) *Room {
	room := &Room{
		Code:        code,
		Host:        hostID,
		Members:     make(map[string]*Member),
		Messages:    make([]ChatMessage, 0),
		MutualLikes: make(map[string]LikerSet),
		CreatedAt:   time.Now().UTC(),
	}
	room.Members[hostID] = NewMember(hostName, true)
	return room
}

// GenerateCode returns a random room code. Callers check it for collisions.
func GenerateCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	out := make([]byte, codeLength)
	for i := range out {
		out[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(out)
}

func (r *Room) Phase() Phase {
	switch {
	case r.VotingComplete:
		return PhaseConcluded
	case r.ChatStarted:
		return PhaseVoting
	}
	for _, m := range r.Members {
		if m.Survey.Preferences != nil || m.Survey.MinRating != nil {
			return PhaseSurveying
		}
	}
	return PhaseLobby
}

func (r *Room) Member(id string) (*Member, bool) {
	m, ok := r.Members[id]
	return m, ok
}

// MemberIDs returns member ids in join order.
func (r *Room) MemberIDs() []string {
	ids := make([]string, 0, len(r.Members))
	for id := range r.Members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.Members[ids[i]], r.Members[ids[j]]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Join adds a member. Members already present are let back in even after the
// room started; new members are rejected once chat has started.
func (r *Room) Join(memberID, name string) (bool, error) {
	if _, ok := r.Members[memberID]; ok {
		return false, nil
	}
	if r.ChatStarted {
		return false, ErrRoomStarted
	}

	isHost := r.Host == ""
	r.Members[memberID] = NewMember(name, isHost)
	if isHost {
		r.Host = memberID
	}
	return true, nil
}

// Leave removes a member together with their likes. A host leaving before
// the room started hands the role to the longest-present member.
func (r *Room) Leave(memberID string) error {
	if _, ok := r.Members[memberID]; !ok {
		return ErrMemberNotFound
	}

	delete(r.Members, memberID)
	for movieID, likers := range r.MutualLikes {
		delete(likers, memberID)
		if len(likers) == 0 {
			delete(r.MutualLikes, movieID)
		}
	}

	if memberID != r.Host || r.ChatStarted {
		return nil
	}

	r.Host = ""
	if ids := r.MemberIDs(); len(ids) > 0 {
		r.Host = ids[0]
		r.Members[ids[0]].IsHost = true
	}
	return nil
}

func (r *Room) SetSurvey(memberID string, survey Survey) error {
	m, ok := r.Members[memberID]
	if !ok {
		return ErrMemberNotFound
	}
	m.Survey = survey
	return nil
}

func (r *Room) SetSuggestions(memberID string, stubs []MovieStub) error {
	m, ok := r.Members[memberID]
	if !ok {
		return ErrMemberNotFound
	}
	m.SuggestedFromLLM = stubs
	return nil
}

func (r *Room) SurveyStatus() SurveyStatus {
	pending := 0
	for _, m := range r.Members {
		if !m.Survey.Complete() {
			pending++
		}
	}
	return SurveyStatus{
		Ready:   pending == 0 && len(r.Members) > 0,
		Pending: pending,
	}
}

// StartChat moves the room into voting. Only the host may do it, and only
// when every member filled the survey.
func (r *Room) StartChat(memberID string) error {
	if r.ChatStarted {
		return ErrChatAlreadyStarted
	}
	if memberID != r.Host {
		return ErrNotHost
	}
	if _, ok := r.Members[memberID]; !ok {
		return ErrNotHost
	}
	if !r.SurveyStatus().Ready {
		return ErrSurveysIncomplete
	}
	r.ChatStarted = true
	return nil
}

func (r *Room) AddMessage(senderName, text string) (ChatMessage, error) {
	if IsSurveyMarker(text) {
		return ChatMessage{}, ErrSurveyMarker
	}
	if !r.ChatStarted {
		return ChatMessage{}, ErrChatNotStarted
	}
	if text == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	msg := NewChatMessage(senderName, text)
	r.Messages = append(r.Messages, msg)
	return msg, nil
}

// RecordChoice stores a like or dislike, keeps MutualLikes in sync and
// evaluates whether the vote is over. Completion happens at most once.
// Choices are only taken once the host has started the room.
func (r *Room) RecordChoice(memberID, movieID string, choice Choice) (VotingOutcome, error) {
	if !r.ChatStarted {
		return VotingOutcome{}, ErrChatNotStarted
	}
	if choice != ChoiceLike && choice != ChoiceDislike {
		return VotingOutcome{}, ErrInvalidChoice
	}
	m, ok := r.Members[memberID]
	if !ok {
		return VotingOutcome{}, ErrMemberNotFound
	}
	if m.MovieChoices == nil {
		m.MovieChoices = make(map[string]Choice)
	}
	if r.MutualLikes == nil {
		r.MutualLikes = make(map[string]LikerSet)
	}

	m.MovieChoices[movieID] = choice
	switch choice {
	case ChoiceLike:
		likers, ok := r.MutualLikes[movieID]
		if !ok {
			likers = make(LikerSet)
			r.MutualLikes[movieID] = likers
		}
		likers[memberID] = struct{}{}
	case ChoiceDislike:
		if likers, ok := r.MutualLikes[movieID]; ok {
			delete(likers, memberID)
			if len(likers) == 0 {
				delete(r.MutualLikes, movieID)
			}
		}
	}

	outcome := VotingOutcome{
		EveryoneAtEarlyThreshold: r.everyoneHasAtLeast(EarlyVoteThreshold),
	}
	if r.VotingComplete {
		return outcome, nil
	}

	if r.votingFinished() {
		r.VotingComplete = true
		r.Results = r.rankLikes()
		outcome.Completed = true
		outcome.Results = r.Results
	}
	return outcome, nil
}

func (r *Room) TotalChoices() int {
	total := 0
	for _, m := range r.Members {
		total += m.ChoiceCount()
	}
	return total
}

func (r *Room) everyoneHasAtLeast(n int) bool {
	if len(r.Members) == 0 {
		return false
	}
	for _, m := range r.Members {
		if m.ChoiceCount() < n {
			return false
		}
	}
	return true
}

// likedByEveryone uses the current member count, including members who
// joined after the lobby closed by reconnecting.
func (r *Room) likedByEveryone() bool {
	for _, likers := range r.MutualLikes {
		if len(likers) == len(r.Members) {
			return true
		}
	}
	return false
}

func (r *Room) votingFinished() bool {
	if r.everyoneHasAtLeast(FullVoteThreshold) {
		return true
	}
	return r.everyoneHasAtLeast(EarlyVoteThreshold) && r.likedByEveryone()
}

func (r *Room) rankLikes() []LikeTally {
	tallies := make([]LikeTally, 0, len(r.MutualLikes))
	for movieID, likers := range r.MutualLikes {
		if len(likers) == 0 {
			continue
		}
		tallies = append(tallies, LikeTally{MovieID: movieID, Likes: len(likers)})
	}

	sort.Slice(tallies, func(i, j int) bool {
		if tallies[i].Likes != tallies[j].Likes {
			return tallies[i].Likes > tallies[j].Likes
		}
		return lessMovieID(tallies[i].MovieID, tallies[j].MovieID)
	})

	if len(tallies) > maxTopMovies {
		tallies = tallies[:maxTopMovies]
	}
	return tallies
}

// lessMovieID orders numeric ids numerically, which is catalog order.
func lessMovieID(a, b string) bool {
	ai, errA := strconv.Atoi(a)
	bi, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}

// Clone returns a deep copy, so stores can hand out snapshots.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r

	cp.Members = make(map[string]*Member, len(r.Members))
	for id, m := range r.Members {
		cp.Members[id] = m.clone()
	}

	cp.Messages = append(make([]ChatMessage, 0, len(r.Messages)), r.Messages...)

	cp.MutualLikes = make(map[string]LikerSet, len(r.MutualLikes))
	for movieID, likers := range r.MutualLikes {
		set := make(LikerSet, len(likers))
		for id := range likers {
			set[id] = struct{}{}
		}
		cp.MutualLikes[movieID] = set
	}

	if r.Results != nil {
		cp.Results = append([]LikeTally(nil), r.Results...)
	}
	return &cp
}

// Normalize fills nil collections left by older snapshots.
func (r *Room) Normalize() {
	if r.Members == nil {
		r.Members = make(map[string]*Member)
	}
	for id, m := range r.Members {
		if m == nil {
			delete(r.Members, id)
			continue
		}
		if m.MovieChoices == nil {
			m.MovieChoices = make(map[string]Choice)
		}
	}
	if r.Messages == nil {
		r.Messages = make([]ChatMessage, 0)
	}
	if r.MutualLikes == nil {
		r.MutualLikes = make(map[string]LikerSet)
	}
}
