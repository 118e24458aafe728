package session

import (
	"net/http"
	"time"

	"github.com/imanojprajapati/visitrack-v3-sub002/internal/auth"
)

const (
	AccessCookieName  = "accessToken"
	RefreshCookieName = "refreshToken"
)

// CookieOptions defines how session cookies are issued. Session cookies are
// always HttpOnly and Secure.
type CookieOptions struct {
	Path     string
	Domain   string
	SameSite http.SameSite
}

func DefaultCookieOptions() CookieOptions {
	return CookieOptions{Path: "/", SameSite: http.SameSiteStrictMode}
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == 0 || o.SameSite == http.SameSiteDefaultMode {
		o.SameSite = http.SameSiteStrictMode
	}
	return o
}

// CookieStore turns credentials into cookies. It holds no session state.
type CookieStore struct {
	opts CookieOptions
}

func NewCookieStore(opts CookieOptions) *CookieStore {
	return &CookieStore{opts: opts.normalize()}
}

// Issue returns the access and refresh cookies for pair as seen at now.
// A credential that is already expired is emitted as a cleared cookie.
func (s *CookieStore) Issue(pair auth.Pair, now time.Time) []*http.Cookie {
	return []*http.Cookie{
		s.active(AccessCookieName, pair.Access, now),
		s.active(RefreshCookieName, pair.Refresh, now),
	}
}

// Clear returns cookies that make the browser drop both credentials. Safe to
// call when no session exists.
func (s *CookieStore) Clear() []*http.Cookie {
	return []*http.Cookie{
		s.cleared(AccessCookieName),
		s.cleared(RefreshCookieName),
	}
}

func (s *CookieStore) Apply(w http.ResponseWriter, cookies []*http.Cookie) {
	for _, cookie := range cookies {
		http.SetCookie(w, cookie)
	}
}

func (s *CookieStore) ReadAccess(r *http.Request) (string, bool) {
	return readCookie(r, AccessCookieName)
}

func (s *CookieStore) ReadRefresh(r *http.Request) (string, bool) {
	return readCookie(r, RefreshCookieName)
}

func (s *CookieStore) active(name string, cred auth.Credential, now time.Time) *http.Cookie {
	maxAge := MaxAgeSeconds(cred.ExpiresAt, now)
	if maxAge <= 0 || cred.Value == "" {
		return s.cleared(name)
	}
	return &http.Cookie{
		Name:     name,
		Value:    cred.Value,
		Path:     s.opts.Path,
		Domain:   s.opts.Domain,
		Expires:  cred.ExpiresAt.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: s.opts.SameSite,
	}
}

func (s *CookieStore) cleared(name string) *http.Cookie {
	return &http.Cookie{
		Name:    name,
		Value:   "",
		Path:    s.opts.Path,
		Domain:  s.opts.Domain,
		Expires: time.Unix(0, 0).UTC(),
		// net/http serializes a negative MaxAge as "Max-Age=0".
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: s.opts.SameSite,
	}
}

// MaxAgeSeconds rounds the remaining lifetime up to whole seconds so a
// credential with sub-second life left still gets a positive Max-Age.
func MaxAgeSeconds(expiresAt, now time.Time) int {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	seconds := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		seconds++
	}
	return seconds
}

func readCookie(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
