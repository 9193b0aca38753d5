package domain

const (
	PlaceholderValue = "N/A"
	PlaceholderPlot  = "No description available."
)

// Movie is a catalog record. It never changes after the catalog is loaded.
type Movie struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Year   int     `json:"year"`
	Rating float64 `json:"rating"`
}

// MovieDetails holds the metadata fetched from the enrichment service.
type MovieDetails struct {
	Poster   string `json:"poster"`
	Plot     string `json:"plot"`
	Genre    string `json:"genre"`
	Director string `json:"director"`
	Actors   string `json:"actors"`
}

// PlaceholderDetails is what callers get when no metadata could be fetched.
func PlaceholderDetails() MovieDetails {
	return MovieDetails{
		Poster:   PlaceholderValue,
		Plot:     PlaceholderPlot,
		Genre:    PlaceholderValue,
		Director: PlaceholderValue,
		Actors:   PlaceholderValue,
	}
}

// FeedItem is one suggestion shown to a member. Score is recomputed for every
// feed request and is never persisted.
type FeedItem struct {
	Movie
	MovieDetails
	Score float64 `json:"score"`
}

// MovieStub is a title suggested by the language model, not yet resolved
// against the catalog.
type MovieStub struct {
	Title string `json:"title"`
	Year  int    `json:"year,omitempty"`
}

// TopMovie is one entry of the voting result.
type TopMovie struct {
	MovieID string  `json:"movie_id"`
	Title   string  `json:"title"`
	Year    int     `json:"year"`
	Rating  float64 `json:"rating"`
	Likes   int     `json:"likes"`
}
