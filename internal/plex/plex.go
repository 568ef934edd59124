// Package plex is a minimal client for the two remote surfaces the bootstrap
// pipeline touches: the media server's HTTP endpoint (readiness probe and
// claim handshake) and the account service (claim tokens, device unclaim).
// It is deliberately not a general API client; the library under test is.
package plex

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/schmitthub/plexup/internal/config"
	"github.com/schmitthub/plexup/internal/logger"
)

// Headers is the synthetic client identity sent with every request.
type Headers struct {
	Product         string
	Platform        string
	PlatformVersion string
	Device          string
	Provides        string
	Identifier      string
}

// HeadersFromConfig builds request headers from configuration.
func HeadersFromConfig(cfg config.HeaderConfig) Headers {
	return Headers{
		Product:         cfg.Product,
		Platform:        cfg.Platform,
		PlatformVersion: cfg.PlatformVersion,
		Device:          cfg.Device,
		Provides:        cfg.Provides,
		Identifier:      cfg.Identifier,
	}
}

func (h Headers) apply(req *http.Request, token string) {
	set := func(key, val string) {
		if val != "" {
			req.Header.Set(key, val)
		}
	}
	set("X-Plex-Product", h.Product)
	set("X-Plex-Platform", h.Platform)
	set("X-Plex-Platform-Version", h.PlatformVersion)
	set("X-Plex-Device", h.Device)
	set("X-Plex-Provides", h.Provides)
	set("X-Plex-Client-Identifier", h.Identifier)
	set("X-Plex-Token", token)
}

// Identity is the server's /identity response.
type Identity struct {
	MachineIdentifier string `xml:"machineIdentifier,attr"`
	Version           string `xml:"version,attr"`
	Claimed           bool   `xml:"claimed,attr"`
}

// ServerClient talks to one media server instance.
type ServerClient struct {
	baseURL    string
	token      string
	headers    Headers
	httpClient *http.Client
}

// NewServerClient creates a client for the server at baseURL. token may be
// empty for unclaimed servers.
func NewServerClient(baseURL, token string, headers Headers, timeout time.Duration) *ServerClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ServerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		headers:    headers,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server base URL.
func (c *ServerClient) BaseURL() string {
	return c.baseURL
}

// Identity fetches the server's identity. A successful response is the
// readiness signal: the server answers it before any account binding exists.
func (c *ServerClient) Identity(ctx context.Context) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/identity", nil)
	if err != nil {
		return nil, err
	}
	c.headers.apply(req, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity returned status %d", resp.StatusCode)
	}

	var id Identity
	if err := xml.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}
	return &id, nil
}

// WaitReady polls /identity until the server responds or ctx expires.
// The caller bounds the wait with a deadline on ctx.
func (c *ServerClient) WaitReady(ctx context.Context) (*Identity, error) {
	var id *Identity
	op := func() error {
		var err error
		id, err = c.Identity(ctx)
		if err != nil {
			logger.Debug().Err(err).Str("server", c.baseURL).Msg("server not ready yet")
		}
		return err
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(2*time.Second), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return id, nil
}

// Claim performs the claim handshake, binding the server to the account the
// claim token belongs to. The server accepts this only once, shortly after
// first startup.
func (c *ServerClient) Claim(ctx context.Context, claimToken string) error {
	u := fmt.Sprintf("%s/myplex/claim?token=%s", c.baseURL, url.QueryEscape(claimToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	c.headers.apply(req, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("claim request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("claim rejected with status %d", resp.StatusCode)
	}
	return nil
}

// AccountClient talks to the account service (plex.tv).
type AccountClient struct {
	baseURL    string
	token      string
	headers    Headers
	httpClient *http.Client
}

// NewAccountClient creates a client for the account service. token is the
// test account's auth token (the claim credential).
func NewAccountClient(baseURL, token string, headers Headers, timeout time.Duration) *AccountClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AccountClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		headers:    headers,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ClaimToken fetches a fresh claim token for the account. Claim tokens are
// short-lived; fetch one immediately before starting the container.
func (c *AccountClient) ClaimToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/claim/token.json", nil)
	if err != nil {
		return "", err
	}
	c.headers.apply(req, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("claim token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("claim token request returned status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode claim token response: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("account returned an empty claim token")
	}
	return payload.Token, nil
}

// Device is one entry from the account's device list.
type Device struct {
	ID               string `xml:"id,attr"`
	Name             string `xml:"name,attr"`
	ClientIdentifier string `xml:"clientIdentifier,attr"`
	Provides         string `xml:"provides,attr"`
}

// Devices lists the devices bound to the account.
func (c *AccountClient) Devices(ctx context.Context) ([]Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/devices.xml", nil)
	if err != nil {
		return nil, err
	}
	c.headers.apply(req, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device list request returned status %d", resp.StatusCode)
	}

	var payload struct {
		Devices []Device `xml:"Device"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode device list: %w", err)
	}
	return payload.Devices, nil
}

// RemoveDevice deletes a device from the account by its account-side id.
func (c *AccountClient) RemoveDevice(ctx context.Context, id string) error {
	u := fmt.Sprintf("%s/devices/%s.xml", c.baseURL, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	c.headers.apply(req, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("device removal failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("device removal returned status %d", resp.StatusCode)
	}
	return nil
}

// Unclaim unbinds the server with the given machine identifier from the
// account. This is an account-side operation: it works even when the server
// itself is unreachable. A machine identifier that is no longer listed is
// treated as already unclaimed.
func (c *AccountClient) Unclaim(ctx context.Context, machineIdentifier string) error {
	devices, err := c.Devices(ctx)
	if err != nil {
		return err
	}

	for _, d := range devices {
		if d.ClientIdentifier == machineIdentifier {
			logger.Info().
				Str("device", d.Name).
				Str("machine_id", machineIdentifier).
				Msg("unclaiming server from test account")
			return c.RemoveDevice(ctx, d.ID)
		}
	}

	logger.Debug().Str("machine_id", machineIdentifier).Msg("server not bound to account, nothing to unclaim")
	return nil
}
