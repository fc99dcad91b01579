package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	defaultCookieName  = "storefront_session"
	defaultCookiePath  = "/"
	defaultLifetime    = 7 * 24 * time.Hour
	defaultIdleTimeout = 24 * time.Hour
)

var (
	// ErrExpired indicates the stored session passed its idle or absolute expiry.
	ErrExpired = errors.New("session expired")
	// ErrInvalidConfig indicates the manager was initialised with missing or invalid options.
	ErrInvalidConfig = errors.New("session: invalid config")
)

// Data is the persisted cookie payload.
type Data struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
	User       *User     `json:"user,omitempty"`
}

// Config controls cookie encoding and lifetime limits.
type Config struct {
	CookieName     string
	HashKey        []byte
	BlockKey       []byte
	CookiePath     string
	CookieSecure   bool
	CookieSameSite http.SameSite
	IdleTimeout    time.Duration
	Lifetime       time.Duration
	Now            func() time.Time
}

// Manager reads and writes sessions as signed, optionally encrypted, cookies.
type Manager struct {
	cfg   Config
	codec *securecookie.SecureCookie
	now   func() time.Time
}

// NewManager constructs a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.HashKey) == 0 {
		return nil, fmt.Errorf("%w: hash key is required", ErrInvalidConfig)
	}
	switch len(cfg.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidConfig)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaultCookiePath
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	codec := securecookie.New(cfg.HashKey, cfg.BlockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.Lifetime.Seconds()))

	return &Manager{cfg: cfg, codec: codec, now: now}, nil
}

// Load decodes the request cookie. A missing or undecodable cookie yields a fresh
// session; an expired one yields ErrExpired together with a fresh session.
func (m *Manager) Load(r *http.Request) (Data, bool, error) {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return m.fresh(), true, nil
	}
	var stored Data
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &stored); err != nil || stored.ID == "" {
		return m.fresh(), true, nil
	}
	if m.expired(stored) {
		return m.fresh(), true, ErrExpired
	}
	return stored, false, nil
}

// Save writes data back as the session cookie, replacing any cookie already queued on w.
func (m *Manager) Save(w http.ResponseWriter, data Data) error {
	data.LastActive = m.now().UTC()
	encoded, err := m.codec.Encode(m.cfg.CookieName, data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	cookie := &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    encoded,
		Path:     m.cfg.CookiePath,
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: m.cfg.CookieSameSite,
	}
	if !data.ExpiresAt.IsZero() {
		cookie.Expires = data.ExpiresAt.UTC()
		remaining := data.ExpiresAt.Sub(m.now())
		if remaining <= 0 {
			cookie.MaxAge = -1
		} else {
			cookie.MaxAge = int(remaining.Round(time.Second).Seconds())
		}
	}
	m.setCookie(w, cookie)
	return nil
}

// Destroy clears the session cookie.
func (m *Manager) Destroy(w http.ResponseWriter) {
	m.setCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.CookiePath,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: m.cfg.CookieSameSite,
	})
}

func (m *Manager) fresh() Data {
	now := m.now().UTC()
	return Data{
		ID:         mustGenerateToken(32),
		CreatedAt:  now,
		LastActive: now,
		ExpiresAt:  now.Add(m.cfg.Lifetime),
	}
}

func (m *Manager) expired(d Data) bool {
	now := m.now().UTC()
	if !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt.UTC()) {
		return true
	}
	last := d.LastActive
	if last.IsZero() {
		last = d.CreatedAt
	}
	return !last.IsZero() && now.Sub(last) > m.cfg.IdleTimeout
}

// setCookie drops any Set-Cookie for the same name queued earlier in the request.
func (m *Manager) setCookie(w http.ResponseWriter, cookie *http.Cookie) {
	header := w.Header()
	var kept []string
	for _, line := range header.Values("Set-Cookie") {
		if parsed, err := http.ParseSetCookie(line); err == nil && parsed.Name == cookie.Name {
			continue
		}
		kept = append(kept, line)
	}
	header.Del("Set-Cookie")
	for _, line := range kept {
		header.Add("Set-Cookie", line)
	}
	http.SetCookie(w, cookie)
}

func mustGenerateToken(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("generate token: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
