package http

import (
	"crypto/sha256"
	"net/http"

	"github.com/gorilla/securecookie"

	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
)

// SessionStore keeps the browser's identity in a signed cookie. The payload
// is readable by the client but cannot be altered.
type SessionStore struct {
	codec *securecookie.SecureCookie
	name  string
}

// NewSessionStore signs cookies with a key derived from secret. An empty
// secret gets a random key, so sessions do not survive a restart.
func NewSessionStore(secret, cookieName string) *SessionStore {
	var hashKey []byte
	if secret == "" {
		hashKey = securecookie.GenerateRandomKey(32)
	} else {
		sum := sha256.Sum256([]byte(secret))
		hashKey = sum[:]
	}

	codec := securecookie.New(hashKey, nil)
	codec.SetSerializer(securecookie.JSONEncoder{})

	return &SessionStore{codec: codec, name: cookieName}
}

// Get returns the request's session. A missing or tampered cookie yields an
// empty session.
func (s *SessionStore) Get(r *http.Request) *domain.Session {
	sess := &domain.Session{}
	cookie, err := r.Cookie(s.name)
	if err != nil {
		return sess
	}
	if err := s.codec.Decode(s.name, cookie.Value, sess); err != nil {
		return &domain.Session{}
	}
	return sess
}

func (s *SessionStore) Save(w http.ResponseWriter, r *http.Request, sess *domain.Session) error {
	value, err := s.codec.Encode(s.name, sess)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *SessionStore) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
