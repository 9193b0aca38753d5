package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
)

func TestBoostContenders(t *testing.T) {
	candidates := []candidate{
		{movie: domain.Movie{ID: "a"}, score: 10},
		{movie: domain.Movie{ID: "b"}, score: 0.1},
		{movie: domain.Movie{ID: "c"}, score: 9},
		{movie: domain.Movie{ID: "d"}, score: 7.5},
		{movie: domain.Movie{ID: "e"}, score: 8},
		{movie: domain.Movie{ID: "f"}, score: 6},
		{movie: domain.Movie{ID: "g"}, score: 3.9},
	}

	// The 5th best is 6, so anything below 4 cannot reach the top five.
	got := boostContenders(candidates, 5, 2)
	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"a", "c", "d", "e", "f"}, ids)

	assert.Len(t, boostContenders(candidates[:3], 5, 2), 3)
	assert.Nil(t, boostContenders(nil, 5, 2))
}

func TestClampMinRating(t *testing.T) {
	v := func(f float64) *float64 { return &f }

	assert.Zero(t, clampMinRating(nil))
	assert.Zero(t, clampMinRating(v(-3)))
	assert.Equal(t, 6.5, clampMinRating(v(6.5)))
	assert.Equal(t, 7.0, clampMinRating(v(9)))
}
