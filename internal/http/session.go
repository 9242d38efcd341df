package http

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"lukechampine.com/blake3"
)

const (
	sessionCookie = "transcript_session"
	loggedInFlag  = "logged_in"
)

// sessions issues and verifies signed session cookies. The cookie carries the
// logged_in flag and an expiry, authenticated with a keyed BLAKE3 MAC.
type sessions struct {
	key [32]byte
	ttl time.Duration
	now func() time.Time
}

func newSessions(secret string, ttl time.Duration) *sessions {
	s := &sessions{ttl: ttl, now: time.Now}
	if secret == "" {
		if _, err := rand.Read(s.key[:]); err != nil {
			panic(err)
		}
		log.Warn().Msg("No session secret configured, sessions will not survive a restart")
	} else {
		s.key = blake3.Sum256([]byte(secret))
	}
	return s
}

func (s *sessions) mac(payload string) []byte {
	h := blake3.New(32, s.key[:])
	h.Write([]byte(payload))
	return h.Sum(nil)
}

func (s *sessions) encode(expires time.Time) string {
	payload := loggedInFlag + "|" + strconv.FormatInt(expires.Unix(), 10)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + hex.EncodeToString(s.mac(payload))
}

func (s *sessions) decode(value string) bool {
	encoded, sig, ok := strings.Cut(value, ".")
	if !ok {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(want, s.mac(string(raw))) {
		return false
	}

	flag, exp, ok := strings.Cut(string(raw), "|")
	if !ok || flag != loggedInFlag {
		return false
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return false
	}
	return s.now().Before(time.Unix(unix, 0))
}

func (s *sessions) issue(w http.ResponseWriter, r *http.Request) {
	expires := s.now().Add(s.ttl)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.encode(expires),
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *sessions) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func (s *sessions) loggedIn(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	return s.decode(c.Value)
}

// require redirects requests without a valid session to the login page.
func (s *sessions) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.loggedIn(r) {
			http.Redirect(w, r, "/login?next=/", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isSafeURL reports whether target, resolved against the request's own
// origin, stays on the same host over http or https. Browsers read a
// backslash as a slash, so targets containing one are refused.
func isSafeURL(r *http.Request, target string) bool {
	if strings.Contains(target, `\`) {
		return false
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	ref := &url.URL{Scheme: scheme, Host: r.Host, Path: "/"}

	t, err := url.Parse(target)
	if err != nil {
		return false
	}
	resolved := ref.ResolveReference(t)
	return (resolved.Scheme == "http" || resolved.Scheme == "https") && resolved.Host == ref.Host
}
