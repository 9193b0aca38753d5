// Package recommend builds the movie feed each room member swipes through.
package recommend

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nirvaankohli/north-pole-consensus/internal/catalog"
	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
	"github.com/nirvaankohli/north-pole-consensus/internal/metrics"
)

const (
	InitialFeedSize      = 10
	PersonalizedFeedSize = 5

	perMemberPool  = 10
	safetyMargin   = 1
	maxMinRating   = 7
	llmSharePct    = 70
	enrichParallel = 8

	collabWeight      = 2.5
	likeBase          = 1.0
	likeSimilarity    = 0.5
	dislikeBase       = 0.5
	dislikeSimilarity = 0.3
	preferenceBoost   = 2.0
)

var ErrMemberNotFound = errors.New("member is not in the room")

//go:generate mockgen -destination=mocks/enricher.go -package=mocks . Enricher

// Enricher fetches display details for a movie. Implementations must not
// fail; they return placeholders instead.
type Enricher interface {
	Enrich(ctx context.Context, title string, year int) domain.MovieDetails
}

type Engine struct {
	catalog  *catalog.Catalog
	enricher Enricher
	log      *slog.Logger

	priority catalog.Priority
	minYear  int

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an engine. A zero seed seeds the random source from the clock.
func New(cat *catalog.Catalog, enricher Enricher, seed int64, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		catalog:  cat,
		enricher: enricher,
		log:      log,
		priority: catalog.PriorityRating,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// WithSampling changes how the initial feed pool is chosen. Movies released
// before minYear are left out when minYear is positive.
func (e *Engine) WithSampling(priority catalog.Priority, minYear int) *Engine {
	e.priority = priority
	e.minYear = minYear
	return e
}

// Feed returns the initial feed until anyone in the room has voted, and the
// personalized feed afterwards.
func (e *Engine) Feed(ctx context.Context, room *domain.Room, memberID string) ([]domain.FeedItem, error) {
	if room.TotalChoices() == 0 {
		return e.InitialFeed(ctx, room, memberID)
	}
	return e.PersonalizedFeed(ctx, room, memberID)
}

// InitialFeed samples highly rated movies above the member's minimum rating,
// led by the titles the language model suggested for them. Items are not
// scored.
func (e *Engine) InitialFeed(ctx context.Context, room *domain.Room, memberID string) ([]domain.FeedItem, error) {
	const op = "recommend.InitialFeed"
	start := time.Now()
	defer func() { metrics.RecordFeed("initial", time.Since(start)) }()

	member, ok := room.Member(memberID)
	if !ok {
		return nil, ErrMemberNotFound
	}

	members := len(room.Members)
	if members < 1 {
		members = 1
	}

	filtered := catalog.FilterByMinRating(e.catalog.All(), clampMinRating(member.Survey.MinRating))
	if e.minYear > 0 {
		filtered = catalog.FilterByMinYear(filtered, e.minYear)
	}

	pool := perMemberPool * members
	if limit := len(filtered) - safetyMargin; pool > limit {
		pool = limit
	}
	if pool < 0 {
		pool = 0
	}

	suggested := make([]string, 0, len(member.SuggestedFromLLM))
	for _, stub := range member.SuggestedFromLLM {
		suggested = append(suggested, stub.Title)
	}
	remaining, fromLLM := catalog.ExcludeTitles(filtered, suggested)

	e.mu.Lock()
	fromLLM = e.subsample(fromLLM, members*perMemberPool*llmSharePct/100)
	n := InitialFeedSize - len(fromLLM)
	if n < 0 {
		n = 0
	}
	sampled, err := catalog.SampleRandom(e.rng, remaining, pool, n, e.priority)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	movies := append(fromLLM, sampled...)
	if len(movies) > InitialFeedSize {
		movies = movies[:InitialFeedSize]
	}

	e.log.Debug("initial feed built",
		slog.String("op", op),
		slog.String("room", room.Code),
		slog.Int("llm", len(fromLLM)),
		slog.Int("sampled", len(sampled)),
		slog.Int("pool", pool),
	)

	details, err := e.enrichAll(ctx, movies)
	if err != nil {
		return nil, err
	}

	feed := make([]domain.FeedItem, len(movies))
	for i, m := range movies {
		feed[i] = domain.FeedItem{Movie: m, MovieDetails: details[m.ID]}
	}
	return feed, nil
}

type candidate struct {
	movie domain.Movie
	score float64
}

// PersonalizedFeed ranks the movies the member has not rated yet by what
// similar members liked, catalog rating, group-wide likes and the member's
// stated preferences.
func (e *Engine) PersonalizedFeed(ctx context.Context, room *domain.Room, memberID string) ([]domain.FeedItem, error) {
	const op = "recommend.PersonalizedFeed"

	if room.TotalChoices() == 0 {
		return e.InitialFeed(ctx, room, memberID)
	}

	start := time.Now()
	defer func() { metrics.RecordFeed("personalized", time.Since(start)) }()

	member, ok := room.Member(memberID)
	if !ok {
		return nil, ErrMemberNotFound
	}

	collab := CollaborativeScores(room, memberID)

	seen := make(map[string]struct{})
	candidates := make([]candidate, 0, e.catalog.Len())
	for _, m := range e.catalog.All() {
		if _, rated := member.MovieChoices[m.ID]; rated {
			continue
		}
		if _, dup := seen[m.Title]; dup {
			continue
		}
		seen[m.Title] = struct{}{}

		likers := len(room.MutualLikes[m.ID])
		candidates = append(candidates, candidate{
			movie: m,
			score: collabWeight*collab[m.ID] + m.Rating/10 + MutualBoost(likers),
		})
	}

	details := make(map[string]domain.MovieDetails)
	tokens := preferenceTokens(member.Survey.Preferences)
	if len(tokens) > 0 {
		contenders := boostContenders(candidates, PersonalizedFeedSize, preferenceBoost)
		fetched, err := e.enrichAll(ctx, contenders)
		if err != nil {
			return nil, err
		}
		for id, d := range fetched {
			details[id] = d
		}
		for i := range candidates {
			d, ok := details[candidates[i].movie.ID]
			if ok && matchesPreferences(d, tokens) {
				candidates[i].score += preferenceBoost
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > PersonalizedFeedSize {
		candidates = candidates[:PersonalizedFeedSize]
	}

	missing := make([]domain.Movie, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := details[c.movie.ID]; !ok {
			missing = append(missing, c.movie)
		}
	}
	fetched, err := e.enrichAll(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, d := range fetched {
		details[id] = d
	}

	feed := make([]domain.FeedItem, len(candidates))
	for i, c := range candidates {
		feed[i] = domain.FeedItem{Movie: c.movie, MovieDetails: details[c.movie.ID], Score: c.score}
	}

	e.log.Debug("personalized feed built",
		slog.String("op", op),
		slog.String("room", room.Code),
		slog.String("member_id", memberID),
		slog.Int("candidates", len(seen)),
	)
	return feed, nil
}

// CollaborativeScores sums, for every movie, the votes of the other members
// weighted by how often each agreed with memberID on movies both rated.
func CollaborativeScores(room *domain.Room, memberID string) map[string]float64 {
	scores := make(map[string]float64)

	me, ok := room.Member(memberID)
	if !ok {
		return scores
	}

	for _, otherID := range room.MemberIDs() {
		if otherID == memberID {
			continue
		}
		other := room.Members[otherID]

		sim := Similarity(me.MovieChoices, other.MovieChoices)
		for movieID, choice := range other.MovieChoices {
			switch choice {
			case domain.ChoiceLike:
				scores[movieID] += likeBase + likeSimilarity*sim
			case domain.ChoiceDislike:
				scores[movieID] -= dislikeBase + dislikeSimilarity*sim
			}
		}
	}
	return scores
}

// Similarity counts the movies both members liked or both disliked.
func Similarity(mine, theirs map[string]domain.Choice) float64 {
	agree := 0
	for movieID, choice := range mine {
		if other, ok := theirs[movieID]; ok && other == choice {
			agree++
		}
	}
	return float64(agree)
}

// MutualBoost rewards movies liked by k members: k*(2+k).
func MutualBoost(k int) float64 {
	return float64(k * (2 + k))
}

func clampMinRating(v *float64) float64 {
	if v == nil {
		return 0
	}
	switch {
	case *v < 0:
		return 0
	case *v > maxMinRating:
		return maxMinRating
	}
	return *v
}

func preferenceTokens(pref *string) []string {
	if pref == nil {
		return nil
	}
	return strings.Fields(strings.ToLower(*pref))
}

func matchesPreferences(d domain.MovieDetails, tokens []string) bool {
	haystack := strings.ToLower(d.Genre + " " + d.Actors + " " + d.Director)
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}

// boostContenders returns the candidates that could reach the top size
// results if they received boost. Everything else is outranked regardless.
func boostContenders(candidates []candidate, size int, boost float64) []domain.Movie {
	if len(candidates) == 0 {
		return nil
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = c.score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	threshold := scores[len(scores)-1]
	if size <= len(scores) {
		threshold = scores[size-1]
	}

	out := make([]domain.Movie, 0, size*2)
	for _, c := range candidates {
		if c.score+boost >= threshold {
			out = append(out, c.movie)
		}
	}
	return out
}

// subsample keeps n movies chosen uniformly, in their original order. The
// caller holds e.mu.
func (e *Engine) subsample(movies []domain.Movie, n int) []domain.Movie {
	if n < 0 {
		n = 0
	}
	if len(movies) <= n {
		return movies
	}
	idx := e.rng.Perm(len(movies))[:n]
	sort.Ints(idx)

	out := make([]domain.Movie, 0, n)
	for _, i := range idx {
		out = append(out, movies[i])
	}
	return out
}

// enrichAll fetches details for movies with bounded concurrency.
func (e *Engine) enrichAll(ctx context.Context, movies []domain.Movie) (map[string]domain.MovieDetails, error) {
	results := make([]domain.MovieDetails, len(movies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichParallel)
	for i, m := range movies {
		i, m := i, m
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.enricher.Enrich(gctx, m.Title, m.Year)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]domain.MovieDetails, len(movies))
	for i, m := range movies {
		out[m.ID] = results[i]
	}
	return out, nil
}
