package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
)

const usersCollection = "users"

// ProfileDocuments is the slice of the facade document contract the loader needs.
type ProfileDocuments interface {
	GetDocument(ctx context.Context, collection, id string, dst any) error
	CreateDocument(ctx context.Context, collection string, doc any) (string, error)
}

// ProfileLoader resolves the stored profile of a freshly authenticated principal.
type ProfileLoader struct {
	docs   ProfileDocuments
	clock  func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// ProfileOption customises a ProfileLoader.
type ProfileOption func(*ProfileLoader)

// WithProfileClock overrides the join date clock.
func WithProfileClock(clock func() time.Time) ProfileOption {
	return func(l *ProfileLoader) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithProfileLogger installs an event logger.
func WithProfileLogger(logger func(ctx context.Context, event string, fields map[string]any)) ProfileOption {
	return func(l *ProfileLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewProfileLoader constructs a loader over docs.
func NewProfileLoader(docs ProfileDocuments, opts ...ProfileOption) *ProfileLoader {
	l := &ProfileLoader{
		docs:   docs,
		clock:  time.Now,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches users/{uid}. A missing profile is created with role user. Any other
// failure yields a role user profile so sign-in still succeeds.
func (l *ProfileLoader) Load(ctx context.Context, uid, email, name string) *User {
	uid = strings.TrimSpace(uid)
	fallback := &User{UID: uid, Email: email, Name: name, Role: domain.RoleUser}
	if uid == "" || l.docs == nil {
		return fallback
	}

	var stored struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Role  string `json:"role"`
	}
	err := l.docs.GetDocument(ctx, usersCollection, uid, &stored)
	switch {
	case err == nil:
		user := &User{UID: uid, Email: stored.Email, Name: stored.Name, Role: domain.ParseRole(stored.Role)}
		if user.Email == "" {
			user.Email = email
		}
		if user.Name == "" {
			user.Name = name
		}
		return user
	case errors.Is(err, domain.ErrDocumentNotFound):
		if createErr := l.create(ctx, fallback); createErr != nil {
			l.logger(ctx, "session.profile_create_failed", map[string]any{"uid": uid, "error": createErr.Error()})
		}
		return fallback
	default:
		l.logger(ctx, "session.profile_load_failed", map[string]any{"uid": uid, "error": err.Error()})
		return fallback
	}
}

// CreateProfile writes a new profile document for uid with the given role.
func (l *ProfileLoader) CreateProfile(ctx context.Context, user User) error {
	if l.docs == nil {
		return errors.New("session: profile documents unavailable")
	}
	return l.create(ctx, &user)
}

func (l *ProfileLoader) create(ctx context.Context, user *User) error {
	name := user.Name
	if name == "" {
		name = displayName(user.Email)
	}
	profile := domain.User{
		UID:      user.UID,
		Email:    user.Email,
		Name:     name,
		Role:     user.Role,
		JoinDate: l.clock().UTC(),
	}
	doc := struct {
		ID string `json:"id"`
		domain.User
	}{ID: user.UID, User: profile}
	_, err := l.docs.CreateDocument(ctx, usersCollection, doc)
	return err
}

func displayName(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
