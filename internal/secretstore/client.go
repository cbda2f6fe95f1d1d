// Package secretstore is a thin client for the external secret/credential
// vault. Credential references in this service never hold secret bytes —
// every fetch crosses the network to this store, authorized by a
// service-level token that a project's own token may override.
package secretstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/brainzlab/vision/internal/domain"
)

type Client struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

type Config struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		serviceToken: cfg.ServiceToken,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

var nonAlnum = regexp.MustCompile(`[^A-Z0-9_]+`)

// NormalizeKey maps an arbitrary name to the store's key charset: uppercase
// alphanumerics and underscores only, runs of invalid characters collapsed
// to one underscore, and a leading "C" if the result would start with a
// digit.
func NormalizeKey(name string) string {
	upper := strings.ToUpper(name)
	key := nonAlnum.ReplaceAllString(upper, "_")
	key = strings.Trim(key, "_")
	if key == "" {
		key = "_"
	}
	if key[0] >= '0' && key[0] <= '9' {
		key = "C" + key
	}
	return key
}

// CredentialKey builds the vault key a Credential is stored under.
func CredentialKey(shortProjectID, name string) string {
	return fmt.Sprintf("CRED_%s_%s", NormalizeKey(shortProjectID), NormalizeKey(name))
}

type secretResponse struct {
	Value string `json:"value"`
}

func (c *Client) tokenFor(perProjectToken string) string {
	if perProjectToken != "" {
		return perProjectToken
	}
	return c.serviceToken
}

// GetSecret fetches a single secret value by key within an environment.
func (c *Client) GetSecret(ctx context.Context, key, env, projectToken string) (string, error) {
	url := fmt.Sprintf("%s/secrets/%s?env=%s", c.baseURL, key, env)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", domain.NewUpstreamUnavailableError("build secret get request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.tokenFor(projectToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.NewUpstreamUnavailableError("secret store get", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", domain.NewNotFoundError("secret not found: "+key, nil)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", domain.NewUnauthorizedError("secret store rejected token", nil)
	}
	if resp.StatusCode >= 400 {
		return "", domain.NewUpstreamUnavailableError(fmt.Sprintf("secret store returned %d", resp.StatusCode), nil)
	}

	var out secretResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.NewUpstreamUnavailableError("decode secret response", err)
	}
	return out.Value, nil
}

// GetSecretsBatch fetches multiple keys in one round trip.
func (c *Client) GetSecretsBatch(ctx context.Context, keys []string, env, projectToken string) (map[string]string, error) {
	body, err := json.Marshal(map[string]any{"paths": keys, "env": env})
	if err != nil {
		return nil, domain.NewInternalError("marshal batch request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/secrets/batch", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewUpstreamUnavailableError("build batch secret request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.tokenFor(projectToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewUpstreamUnavailableError("secret store batch get", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, domain.NewUpstreamUnavailableError(fmt.Sprintf("secret store batch returned %d", resp.StatusCode), nil)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.NewUpstreamUnavailableError("decode batch secret response", err)
	}
	return out, nil
}

// SetSecret writes a single secret value.
func (c *Client) SetSecret(ctx context.Context, key, value, env, projectToken string, metadata map[string]string) error {
	body, err := json.Marshal(map[string]any{"value": value, "env": env, "metadata": metadata})
	if err != nil {
		return domain.NewInternalError("marshal secret body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/secrets/"+key, bytes.NewReader(body))
	if err != nil {
		return domain.NewUpstreamUnavailableError("build secret set request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.tokenFor(projectToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewUpstreamUnavailableError("secret store set", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.NewUpstreamUnavailableError(fmt.Sprintf("secret store set returned %d", resp.StatusCode), nil)
	}
	return nil
}

// CredentialValue is the parsed shape of a resolved credential: either a
// structured {username, password, ...} JSON object, or a bare password.
type CredentialValue struct {
	Username string
	Password string
	Extra    map[string]string
}

// GetCredential fetches and parses a named credential's secret value.
func (c *Client) GetCredential(ctx context.Context, name, projectID, env, projectToken string) (CredentialValue, error) {
	key := CredentialKey(shortID(projectID), name)
	raw, err := c.GetSecret(ctx, key, env, projectToken)
	if err != nil {
		return CredentialValue{}, err
	}
	return parseCredentialValue(raw), nil
}

func parseCredentialValue(raw string) CredentialValue {
	var asMap map[string]string
	if err := json.Unmarshal([]byte(raw), &asMap); err == nil {
		username := asMap["username"]
		password := asMap["password"]
		delete(asMap, "username")
		delete(asMap, "password")
		return CredentialValue{Username: username, Password: password, Extra: asMap}
	}
	return CredentialValue{Password: raw}
}

// SetCredential writes a named credential as a structured JSON secret.
func (c *Client) SetCredential(ctx context.Context, name, username, password, projectID, env, projectToken string, metadata map[string]string) error {
	key := CredentialKey(shortID(projectID), name)
	value, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return domain.NewInternalError("marshal credential value", err)
	}
	return c.SetSecret(ctx, key, string(value), env, projectToken, metadata)
}

// Healthy reports whether the secret store answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func shortID(projectID string) string {
	if len(projectID) > 8 {
		return projectID[:8]
	}
	return projectID
}
