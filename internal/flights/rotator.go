package flights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/checkpointcast/internal/httputil"
	"github.com/lox/checkpointcast/internal/metrics"
)

// ErrUnavailable means every configured credential was exhausted in a
// single operation; callers should back off rather than retry tightly.
var ErrUnavailable = errors.New("flights: all credentials unavailable")

// DefaultTokenURL is the OpenSky OAuth2 token endpoint.
const DefaultTokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"

// Tokens within this margin of expiry are refreshed eagerly rather
// than risking a mid-request rejection.
const tokenExpiryMargin = 60 * time.Second

// Credential is one OAuth2 client-credentials pair.
type Credential struct {
	ClientID     string
	ClientSecret string
}

// ParseCredentials reads "id:secret,id:secret" from configuration.
// Malformed entries are skipped.
func ParseCredentials(raw string) []Credential {
	var out []Credential
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, secret, ok := strings.Cut(part, ":")
		if !ok || id == "" || secret == "" {
			continue
		}
		out = append(out, Credential{ClientID: id, ClientSecret: secret})
	}
	return out
}

type cachedToken struct {
	access    string
	expiresAt time.Time
}

// Rotator hands out access tokens for a pool of credentials, caching
// one token per credential index and advancing to the next credential
// when the current one is rejected or rate limited.
type Rotator struct {
	creds    []Credential
	tokenURL string
	client   *http.Client
	clock    clockwork.Clock

	mu      sync.Mutex
	current int
	tokens  map[int]cachedToken
}

func NewRotator(creds []Credential, tokenURL string) *Rotator {
	return newRotator(creds, tokenURL, httputil.NewClient(), clockwork.NewRealClock())
}

func newRotator(creds []Credential, tokenURL string, client *http.Client, clock clockwork.Clock) *Rotator {
	return &Rotator{
		creds:    creds,
		tokenURL: tokenURL,
		client:   client,
		clock:    clock,
		tokens:   map[int]cachedToken{},
	}
}

// Size reports how many credentials the pool holds.
func (r *Rotator) Size() int { return len(r.creds) }

// Token returns a valid access token for the current credential,
// granting a fresh one when the cache is empty or close to expiry.
func (r *Rotator) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	idx := r.current
	cached, ok := r.tokens[idx]
	r.mu.Unlock()

	if ok && r.clock.Now().Add(tokenExpiryMargin).Before(cached.expiresAt) {
		return cached.access, nil
	}

	if len(r.creds) == 0 {
		return "", errors.New("flights: no credentials configured")
	}

	access, expiresIn, err := r.grant(ctx, r.creds[idx])
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.tokens[idx] = cachedToken{access: access, expiresAt: r.clock.Now().Add(expiresIn)}
	r.mu.Unlock()
	return access, nil
}

// Rotate advances to the next credential in the pool.
func (r *Rotator) Rotate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.creds) == 0 {
		return
	}
	r.current = (r.current + 1) % len(r.creds)
	metrics.CredentialRotations.Inc()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (r *Rotator) grant(ctx context.Context, cred Credential) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cred.ClientID)
	form.Set("client_secret", cred.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("flights: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("flights: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("flights: token grant: status %d: %s", resp.StatusCode, string(b))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, fmt.Errorf("flights: decode token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, errors.New("flights: empty access token")
	}
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}
