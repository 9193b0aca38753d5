package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
)

var (
	ErrInvalidSample = errors.New("pool and n must be non-negative")
	ErrMissingColumn = errors.New("catalog is missing a required column")
)

// Catalog is the fixed movie list loaded at startup. Movie ids are the row
// positions of the source file.
type Catalog struct {
	movies  []domain.Movie
	byID    map[string]int
	byTitle map[string]int
}

func New(movies []domain.Movie) *Catalog {
	c := &Catalog{
		movies:  make([]domain.Movie, len(movies)),
		byID:    make(map[string]int, len(movies)),
		byTitle: make(map[string]int, len(movies)),
	}
	copy(c.movies, movies)
	for i, m := range c.movies {
		c.byID[m.ID] = i
		if _, ok := c.byTitle[m.Title]; !ok {
			c.byTitle[m.Title] = i
		}
	}
	return c
}

func Load(path string) (*Catalog, error) {
	const op = "catalog.Load"

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Parse reads a CSV with a Title, Year and Rating header. Values that do not
// parse as numbers become zero, the way the scraper writes "N/A".
func Parse(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := map[string]int{"title": -1, "year": -1, "rating": -1}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, ok := cols[key]; ok {
			cols[key] = i
		}
	}
	for name, idx := range cols {
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	movies := make([]domain.Movie, 0, 1024)
	for row := 0; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}

		movies = append(movies, domain.Movie{
			ID:     strconv.Itoa(row),
			Title:  field(record, cols["title"]),
			Year:   parseYear(field(record, cols["year"])),
			Rating: parseRating(field(record, cols["rating"])),
		})
	}

	return New(movies), nil
}

func field(record []string, idx int) string {
	if idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// parseYear takes the leading digits, so "2008–2013" reads as 2008.
func parseYear(raw string) int {
	end := 0
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	year, err := strconv.Atoi(raw[:end])
	if err != nil {
		return 0
	}
	return year
}

func parseRating(raw string) float64 {
	rating, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return rating
}

// All returns the catalog rows in file order.
func (c *Catalog) All() []domain.Movie {
	out := make([]domain.Movie, len(c.movies))
	copy(out, c.movies)
	return out
}

func (c *Catalog) Len() int {
	return len(c.movies)
}

func (c *Catalog) Get(id string) (domain.Movie, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return domain.Movie{}, false
	}
	return c.movies[idx], true
}

// ByTitle returns the first row with exactly this title.
func (c *Catalog) ByTitle(title string) (domain.Movie, bool) {
	idx, ok := c.byTitle[title]
	if !ok {
		return domain.Movie{}, false
	}
	return c.movies[idx], true
}

func (c *Catalog) Titles() []string {
	titles := make([]string, len(c.movies))
	for i, m := range c.movies {
		titles[i] = m.Title
	}
	return titles
}

func FilterByMinRating(movies []domain.Movie, minRating float64) []domain.Movie {
	out := make([]domain.Movie, 0, len(movies))
	for _, m := range movies {
		if m.Rating >= minRating {
			out = append(out, m)
		}
	}
	return out
}

func FilterByMinYear(movies []domain.Movie, minYear int) []domain.Movie {
	out := make([]domain.Movie, 0, len(movies))
	for _, m := range movies {
		if m.Year >= minYear {
			out = append(out, m)
		}
	}
	return out
}

// ExcludeTitles partitions movies by exact title membership.
func ExcludeTitles(movies []domain.Movie, titles []string) (remaining, excluded []domain.Movie) {
	set := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		set[t] = struct{}{}
	}

	remaining = make([]domain.Movie, 0, len(movies))
	excluded = make([]domain.Movie, 0, len(titles))
	for _, m := range movies {
		if _, ok := set[m.Title]; ok {
			excluded = append(excluded, m)
			continue
		}
		remaining = append(remaining, m)
	}
	return remaining, excluded
}

type priorityKind int

const (
	priorityNone priorityKind = iota
	priorityRating
	priorityYear
	prioritySubstring
)

// Priority selects which rows form the sampling pool.
type Priority struct {
	kind      priorityKind
	substring string
}

var (
	PriorityNone   = Priority{kind: priorityNone}
	PriorityRating = Priority{kind: priorityRating}
	PriorityYear   = Priority{kind: priorityYear}
)

func PrioritySubstring(s string) Priority {
	return Priority{kind: prioritySubstring, substring: s}
}

// ParsePriority maps "none", "rating" and "year" (any case) to their
// priorities and anything else to a title substring filter.
func ParsePriority(raw string) Priority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return PriorityNone
	case "rating":
		return PriorityRating
	case "year":
		return PriorityYear
	default:
		return PrioritySubstring(raw)
	}
}

func (p Priority) String() string {
	switch p.kind {
	case priorityRating:
		return "rating"
	case priorityYear:
		return "year"
	case prioritySubstring:
		return "substring:" + p.substring
	default:
		return "none"
	}
}

// SampleRandom draws n distinct movies. For rating and year priorities the
// pool is the top-pool rows by that key; for a substring priority it is the
// first pool rows whose title contains it; with no priority every row is
// eligible. n is clamped to the pool size.
func SampleRandom(rng *rand.Rand, movies []domain.Movie, pool, n int, priority Priority) ([]domain.Movie, error) {
	if pool < 0 || n < 0 {
		return nil, ErrInvalidSample
	}

	candidates := make([]domain.Movie, 0, len(movies))
	switch priority.kind {
	case priorityRating:
		candidates = append(candidates, movies...)
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Rating > candidates[j].Rating
		})
		candidates = top(candidates, pool)
	case priorityYear:
		candidates = append(candidates, movies...)
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Year > candidates[j].Year
		})
		candidates = top(candidates, pool)
	case prioritySubstring:
		needle := strings.ToLower(priority.substring)
		for _, m := range movies {
			if strings.Contains(strings.ToLower(m.Title), needle) {
				candidates = append(candidates, m)
			}
		}
		candidates = top(candidates, pool)
	default:
		candidates = append(candidates, movies...)
	}

	if n > len(candidates) {
		n = len(candidates)
	}

	out := make([]domain.Movie, 0, n)
	for _, idx := range rng.Perm(len(candidates))[:n] {
		out = append(out, candidates[idx])
	}
	return out, nil
}

func top(movies []domain.Movie, pool int) []domain.Movie {
	if pool < len(movies) {
		return movies[:pool]
	}
	return movies
}
