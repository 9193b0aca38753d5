package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	store := NewSessionStore("secret", cookieName)
	sess := &domain.Session{MemberID: "m1", Name: "Alice", Room: "ABCDEF"}

	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), sess))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, "/", cookies[0].Path)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, sess, store.Get(req))
}

func TestSessionStoreRejectsForeignCookies(t *testing.T) {
	signer := NewSessionStore("one secret", cookieName)
	reader := NewSessionStore("another secret", cookieName)

	rec := httptest.NewRecorder()
	require.NoError(t, signer.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), &domain.Session{MemberID: "m1", Name: "Mallory", Room: "ABCDEF"}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	assert.Equal(t, &domain.Session{}, reader.Get(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: "garbage"})
	assert.Equal(t, &domain.Session{}, reader.Get(req))
}

func TestSessionStoreRandomKeyWhenSecretEmpty(t *testing.T) {
	a := NewSessionStore("", cookieName)
	b := NewSessionStore("", cookieName)

	rec := httptest.NewRecorder()
	require.NoError(t, a.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), &domain.Session{MemberID: "m1", Name: "A", Room: "ABCDEF"}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	assert.True(t, a.Get(req).Valid())
	assert.False(t, b.Get(req).Valid())
}
