package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/hanko-field/storefront/internal/platform/config"
)

var errVerifierNotInitialised = errors.New("firebase verifier not initialised")

var (
	// ErrAccountExists is returned when the email already belongs to a Firebase account.
	ErrAccountExists = errors.New("auth: account already exists")
	// ErrInvalidAccount is returned when required account fields are missing.
	ErrInvalidAccount = errors.New("auth: invalid account")
)

// adminClient is the subset of the Firebase Admin auth client the storefront uses.
type adminClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	CreateUser(ctx context.Context, user *firebaseauth.UserToCreate) (*firebaseauth.UserRecord, error)
}

// FirebaseVerifier wraps the Admin SDK auth client. Every call runs under the
// configured timeout.
type FirebaseVerifier struct {
	client  adminClient
	timeout time.Duration
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout overrides the per-call timeout.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewFirebaseVerifier initialises the Admin SDK app for cfg.ProjectID.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return newFirebaseVerifier(client, opts...), nil
}

func newFirebaseVerifier(client adminClient, opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{client: client, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// VerifyIDToken implements TokenVerifier.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errVerifierNotInitialised
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.client.VerifyIDToken(ctx, idToken)
}

// NewAccount describes a password account created on behalf of another user.
type NewAccount struct {
	Email       string
	Password    string
	DisplayName string
	Phone       string
}

// CreateUser provisions a password account and returns its uid. A taken email or
// phone number wraps ErrAccountExists.
func (v *FirebaseVerifier) CreateUser(ctx context.Context, account NewAccount) (string, error) {
	if v == nil || v.client == nil {
		return "", errVerifierNotInitialised
	}
	email := strings.TrimSpace(account.Email)
	if email == "" || account.Password == "" {
		return "", fmt.Errorf("%w: email and password are required", ErrInvalidAccount)
	}

	params := (&firebaseauth.UserToCreate{}).Email(email).Password(account.Password)
	if name := strings.TrimSpace(account.DisplayName); name != "" {
		params = params.DisplayName(name)
	}
	if phone := strings.TrimSpace(account.Phone); phone != "" {
		params = params.PhoneNumber(phone)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	record, err := v.client.CreateUser(ctx, params)
	switch {
	case err == nil:
		return record.UID, nil
	case firebaseauth.IsEmailAlreadyExists(err), firebaseauth.IsPhoneNumberAlreadyExists(err):
		return "", fmt.Errorf("%w: %v", ErrAccountExists, err)
	default:
		return "", fmt.Errorf("auth: create user: %w", err)
	}
}
