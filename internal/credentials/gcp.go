package credentials

import (
	"context"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
)

// GCPAccessor reads secrets from Google Cloud Secret Manager. The client is
// created on first use with application default credentials; a failed creation
// is retried on the next access.
type GCPAccessor struct {
	mu     sync.Mutex
	client *secretmanager.Client
}

// NewGCPAccessor returns an accessor that connects lazily.
func NewGCPAccessor() *GCPAccessor { return &GCPAccessor{} }

func (a *GCPAccessor) getClient(ctx context.Context) (*secretmanager.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	c, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, ferrors.NewError(ferrors.CategoryCredential, "secret manager client unavailable").
			WithCause(err).
			Warning().
			Build()
	}
	a.client = c
	return c, nil
}

// AccessSecret returns the payload of the secret version name.
func (a *GCPAccessor) AccessSecret(ctx context.Context, name string) ([]byte, error) {
	c, err := a.getClient(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, ferrors.NewError(ferrors.CategoryCredential, "secret access failed").
			WithCause(err).
			WithContext("secret", name).
			Warning().
			Build()
	}
	return resp.GetPayload().GetData(), nil
}

// Close releases the client if one was created.
func (a *GCPAccessor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}
