// Package registry resolves a content digest for an image reference by
// talking directly to the image registry: one anonymous token call and one
// manifest call. The digest is used purely as a cache key; callers treat
// resolution failure as a cache miss, never as a fatal error.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"

	"github.com/schmitthub/plexup/internal/logger"
)

const (
	defaultAuthURL     = "https://auth.docker.io"
	defaultRegistryURL = "https://registry-1.docker.io"
	defaultService     = "registry.docker.io"

	// manifestAccept covers both single-platform manifests and manifest lists.
	manifestAccept = "application/vnd.docker.distribution.manifest.v2+json, " +
		"application/vnd.docker.distribution.manifest.list.v2+json, " +
		"application/vnd.oci.image.manifest.v1+json, " +
		"application/vnd.oci.image.index.v1+json"
)

// Resolver queries a registry for image manifest digests.
type Resolver struct {
	authURL     string
	registryURL string
	service     string
	httpClient  *http.Client
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEndpoints overrides the auth and registry endpoints. Used for
// registries other than Docker Hub and for tests.
func WithEndpoints(authURL, registryURL, service string) Option {
	return func(r *Resolver) {
		r.authURL = authURL
		r.registryURL = registryURL
		r.service = service
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = c
	}
}

// NewResolver creates a digest resolver for Docker Hub by default.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		authURL:     defaultAuthURL,
		registryURL: defaultRegistryURL,
		service:     defaultService,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Digest resolves the manifest digest for an image reference like
// "plexinc/pms-docker:latest".
func (r *Resolver) Digest(ctx context.Context, ref string) (digest.Digest, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", ref, err)
	}

	repo := reference.Path(named)
	tag := "latest"
	if tagged, ok := named.(reference.Tagged); ok {
		tag = tagged.Tag()
	}

	token, err := r.token(ctx, repo)
	if err != nil {
		return "", err
	}

	return r.manifestDigest(ctx, repo, tag, token)
}

// token fetches an anonymous pull token for the repository.
func (r *Resolver) token(ctx context.Context, repo string) (string, error) {
	u := fmt.Sprintf("%s/token?service=%s&scope=%s", r.authURL,
		url.QueryEscape(r.service),
		url.QueryEscape("repository:"+repo+":pull"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registry token request failed: status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("registry returned an empty token")
	}
	return payload.Token, nil
}

// manifestDigest asks the registry for the manifest and reads the
// Docker-Content-Digest header. HEAD avoids downloading the manifest body.
func (r *Resolver) manifestDigest(ctx context.Context, repo, tag, token string) (digest.Digest, error) {
	u := fmt.Sprintf("%s/v2/%s/manifests/%s", r.registryURL, repo, tag)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", manifestAccept)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("manifest request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("manifest request failed: status %d", resp.StatusCode)
	}

	raw := resp.Header.Get("Docker-Content-Digest")
	if raw == "" {
		return "", fmt.Errorf("registry did not return a content digest")
	}

	dgst, err := digest.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid content digest %q: %w", raw, err)
	}

	logger.Debug().
		Str("repository", repo).
		Str("tag", tag).
		Str("digest", dgst.String()).
		Msg("resolved image digest")
	return dgst, nil
}
