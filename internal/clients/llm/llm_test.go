package llm_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nirvaankohli/north-pole-consensus/internal/clients/llm"
	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func completion(content string) string {
	payload := map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	out, _ := json.Marshal(payload)
	return string(out)
}

func TestSuggest_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
			Messages  []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		assert.Equal(t, 256, body.MaxTokens)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Contains(t, body.Messages[1].Content, "space operas")
		assert.Contains(t, body.Messages[1].Content, `"Interstellar"`)

		_, _ = io.WriteString(w, completion(`["Interstellar", "The Matrix (1999)", "Interstellar"]`))
	}))
	defer srv.Close()

	c := llm.New(llm.Config{BaseURL: srv.URL, APIKey: "key", Model: "test-model", MaxTokens: 256, Timeout: time.Second}, discardLogger())
	got := c.Suggest(context.Background(), "space operas", []string{"Interstellar", "The Matrix"})
	assert.Equal(t, []domain.MovieStub{
		{Title: "Interstellar"},
		{Title: "The Matrix", Year: 1999},
	}, got)
}

func TestSuggest_FailuresReturnEmpty(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }},
		{"no choices", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, `{"choices":[]}`) }},
		{"prose reply", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, completion("I cannot help with that.")) }},
		{"not json", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "oops") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := llm.New(llm.Config{BaseURL: srv.URL, APIKey: "key", Model: "m", MaxTokens: 10, Timeout: time.Second}, discardLogger())
			got := c.Suggest(context.Background(), "horror", []string{"Alien"})
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestSuggest_SkipsWithoutKeyOrPreferences(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, completion(`["Alien"]`))
	}))
	defer srv.Close()

	noKey := llm.New(llm.Config{BaseURL: srv.URL, Model: "m", MaxTokens: 10}, discardLogger())
	assert.Empty(t, noKey.Suggest(context.Background(), "horror", []string{"Alien"}))

	withKey := llm.New(llm.Config{BaseURL: srv.URL, APIKey: "key", Model: "m", MaxTokens: 10}, discardLogger())
	assert.Empty(t, withKey.Suggest(context.Background(), "   ", []string{"Alien"}))

	assert.Zero(t, calls.Load())
}

func TestParseTitles(t *testing.T) {
	got, err := llm.ParseTitles("```json\n[\"Heat\", \"Alien (1979)\", \" \"]\n```")
	require.NoError(t, err)
	assert.Equal(t, []domain.MovieStub{{Title: "Heat"}, {Title: "Alien", Year: 1979}}, got)

	got, err = llm.ParseTitles(`Sure! Here you go: ["Up"]`)
	require.NoError(t, err)
	assert.Equal(t, []domain.MovieStub{{Title: "Up"}}, got)

	_, err = llm.ParseTitles("nothing here")
	assert.Error(t, err)

	_, err = llm.ParseTitles(`[1, 2]`)
	assert.Error(t, err)

	_, err = llm.ParseTitles(strings.Repeat("x", 200))
	assert.ErrorContains(t, err, "...")
}

func TestSuggest_CanceledCallersDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completion(`["Alien"]`))
	}))
	defer srv.Close()

	c := llm.New(llm.Config{BaseURL: srv.URL, APIKey: "key", Model: "m", MaxTokens: 10, Timeout: time.Second}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		assert.Empty(t, c.Suggest(ctx, "horror", []string{"Alien"}))
	}

	assert.Equal(t, []domain.MovieStub{{Title: "Alien"}}, c.Suggest(context.Background(), "horror", []string{"Alien"}))
}
