package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/OMARxKHALID/POSify-sub001/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

var (
	// ErrProviderClosed is returned once Close has been called.
	ErrProviderClosed = errors.New("firestore: provider is closed")
	errNoProject      = errors.New("firestore: project id is required")
)

// Provider owns the one Firestore client the API shares across tenants. The client is
// dialled on first use and a failed dial is retried by the next caller, so the API can
// boot before the emulator accepts connections.
type Provider struct {
	cfg  config.FirestoreConfig
	dial dialSettings

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

type dialSettings struct {
	timeout time.Duration
	extra   []option.ClientOption
}

// ProviderOption customises the Provider.
type ProviderOption func(*dialSettings)

// WithDialTimeout bounds client creation.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(s *dialSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithClientOptions adds Google API client options, such as a user agent.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(s *dialSettings) {
		s.extra = append(s.extra, opts...)
	}
}

// NewProvider returns a Provider for cfg. Nothing is dialled until Client is called.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{cfg: cfg, dial: dialSettings{timeout: defaultDialTimeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(&p.dial)
		}
	}
	return p
}

// Client returns the shared client, dialling it when needed.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	}

	projectID := p.projectID()
	if projectID == "" {
		return nil, errNoProject
	}
	dialCtx, cancel := context.WithTimeout(ctx, p.dial.timeout)
	defer cancel()
	client, err := firestore.NewClient(dialCtx, projectID, p.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: dial project %s: %w", projectID, err)
	}
	p.client = client
	return client, nil
}

// Organization returns the root document of a tenant. Orders, settings and counters are
// subcollections below it.
func (p *Provider) Organization(ctx context.Context, orgID string) (*firestore.DocumentRef, error) {
	orgID = strings.TrimSpace(orgID)
	switch {
	case orgID == "":
		return nil, NewInvalid("organization", "organization id is required")
	case strings.Contains(orgID, "/"):
		return nil, NewInvalid("organization", "organization id must not contain '/'")
	}
	client, err := p.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(organizationsCollection).Doc(orgID), nil
}

// Ping reads at most one organization document for readiness probes. An empty database
// is healthy.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(organizationsCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return WrapError("ping", err)
	}
	return nil
}

// RunTransaction runs fn on the shared client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

// Close releases the client. Later calls to Client fail with ErrProviderClosed.
func (p *Provider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	p.client, p.closed = nil, true
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

func (p *Provider) projectID() string {
	if id := strings.TrimSpace(p.cfg.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(os.Getenv(envGoogleProjectID))
}

func (p *Provider) clientOptions() []option.ClientOption {
	opts := append([]option.ClientOption(nil), p.dial.extra...)
	host := strings.TrimSpace(p.cfg.EmulatorHost)
	if host == "" {
		host = strings.TrimSpace(os.Getenv(envEmulatorHost))
	}
	if host == "" {
		return opts
	}
	return append(opts,
		option.WithoutAuthentication(),
		option.WithEndpoint(host),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
}
