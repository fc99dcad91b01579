package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
)

const defaultVersion = "latest"

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver resolves secret:// references against Google Secret Manager and caches the values
// for the process lifetime. It satisfies config.SecretResolver.
type Resolver struct {
	client    accessor
	projectID string

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver dials Secret Manager for the given default project.
func NewResolver(ctx context.Context, projectID string, opts ...option.ClientOption) (*Resolver, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: create client: %w", err)
	}
	return newResolver(client, projectID), nil
}

func newResolver(client accessor, projectID string) *Resolver {
	return &Resolver{
		client:    client,
		projectID: strings.TrimSpace(projectID),
		cache:     make(map[string]string),
	}
}

// ResolveSecret accepts secret://name, secret://name?version=3&project=p, or
// secret://projects/p/secrets/name[/versions/v].
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	if r == nil || r.client == nil {
		return "", errors.New("secrets: resolver not initialised")
	}
	name, err := r.resourceName(ref)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if value, ok := r.cache[name]; ok {
		r.mu.Unlock()
		return value, nil
	}
	r.mu.Unlock()

	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}
	if resp == nil || resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	value := strings.TrimSpace(string(resp.GetPayload().GetData()))

	r.mu.Lock()
	r.cache[name] = value
	r.mu.Unlock()
	return value, nil
}

// Close releases the Secret Manager client.
func (r *Resolver) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Resolver) resourceName(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return "", fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	path := strings.Trim(u.Host+u.Path, "/")
	if path == "" {
		return "", fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	if strings.HasPrefix(path, "projects/") {
		if !strings.Contains(path, "/versions/") {
			path += "/versions/" + defaultVersion
		}
		return path, nil
	}

	project := strings.TrimSpace(u.Query().Get("project"))
	if project == "" {
		project = r.projectID
	}
	if project == "" {
		return "", fmt.Errorf("secrets: project is required for %q", ref)
	}
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = defaultVersion
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, path, version), nil
}
