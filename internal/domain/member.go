package domain

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var ErrInvalidChoice = errors.New("choice must be \"like\" or \"dislike\"")

type Choice string

const (
	ChoiceLike    Choice = "like"
	ChoiceDislike Choice = "dislike"
)

func ParseChoice(raw string) (Choice, error) {
	switch Choice(strings.ToLower(strings.TrimSpace(raw))) {
	case ChoiceLike:
		return ChoiceLike, nil
	case ChoiceDislike:
		return ChoiceDislike, nil
	default:
		return "", ErrInvalidChoice
	}
}

// Survey is a member's stated preferences. Both fields are optional until the
// member submits the form.
type Survey struct {
	Preferences *string  `json:"preferences"`
	MinRating   *float64 `json:"min_rating"`
}

// Complete reports whether both answers are present.
func (s Survey) Complete() bool {
	return s.Preferences != nil && s.MinRating != nil
}

// UnmarshalJSON accepts the record shape and the legacy two element array
// shape [preferences, minRating] found in older snapshots.
func (s *Survey) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = Survey{}
		return nil
	}

	if trimmed[0] != '[' {
		type plain Survey
		var p plain
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return err
		}
		*s = Survey(p)
		return nil
	}

	var legacy []any
	if err := json.Unmarshal(trimmed, &legacy); err != nil {
		return err
	}

	out := Survey{}
	if len(legacy) > 0 && legacy[0] != nil {
		pref := fmt.Sprint(legacy[0])
		out.Preferences = &pref
	}
	if len(legacy) > 1 && legacy[1] != nil {
		switch v := legacy[1].(type) {
		case float64:
			out.MinRating = &v
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("legacy survey min rating %q: %w", v, err)
			}
			out.MinRating = &parsed
		default:
			return fmt.Errorf("legacy survey min rating has type %T", v)
		}
	}

	*s = out
	return nil
}

// Member is a participant of a room, keyed by its session member id.
type Member struct {
	Name             string            `json:"name"`
	IsHost           bool              `json:"is_host"`
	Survey           Survey            `json:"survey"`
	MovieChoices     map[string]Choice `json:"movie_choices"`
	SuggestedFromLLM []MovieStub       `json:"suggested_from_llm,omitempty"`
	JoinedAt         time.Time         `json:"joined_at"`
}

func NewMember(name string, isHost bool) *Member {
	return &Member{
		Name:         name,
		IsHost:       isHost,
		MovieChoices: make(map[string]Choice),
		JoinedAt:     time.Now().UTC(),
	}
}

func (m *Member) ChoiceCount() int {
	return len(m.MovieChoices)
}

func (m *Member) clone() *Member {
	cp := *m

	cp.MovieChoices = make(map[string]Choice, len(m.MovieChoices))
	for id, c := range m.MovieChoices {
		cp.MovieChoices[id] = c
	}

	if m.Survey.Preferences != nil {
		pref := *m.Survey.Preferences
		cp.Survey.Preferences = &pref
	}
	if m.Survey.MinRating != nil {
		minRating := *m.Survey.MinRating
		cp.Survey.MinRating = &minRating
	}

	if m.SuggestedFromLLM != nil {
		cp.SuggestedFromLLM = append([]MovieStub(nil), m.SuggestedFromLLM...)
	}

	return &cp
}
