// Package github mints GitHub App installation tokens. Tokens are handed to
// git for cloning and to the agent subprocess as GH_TOKEN.
package github

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zhubert/acp-bridge/clock"
	"github.com/zhubert/acp-bridge/logger"
)

// DefaultAPIBaseURL is the public GitHub REST endpoint.
const DefaultAPIBaseURL = "https://api.github.com"

const (
	// tokenLifetime is how long a minted token is cached. GitHub tokens
	// last an hour.
	tokenLifetime = 55 * time.Minute

	// refreshMargin forces a new token this long before the cached one expires.
	refreshMargin = 5 * time.Minute
)

// Options configures how an AppAuth talks to GitHub.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Clock      clock.Clock
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = DefaultAPIBaseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// AppAuth authenticates as a GitHub App and caches installation tokens
// per installation id.
type AppAuth struct {
	appID      string
	privateKey *rsa.PrivateKey
	opts       Options

	mu     sync.Mutex
	tokens map[int64]cachedToken
}

// NewAppAuth parses the App's private key. The PEM may arrive with literal
// "\n" sequences, as it does when passed through an environment variable.
func NewAppAuth(appID, privateKeyPEM string, opts Options) (*AppAuth, error) {
	if appID == "" {
		return nil, fmt.Errorf("github: app id is required")
	}
	key, err := parsePrivateKey(strings.ReplaceAll(privateKeyPEM, `\n`, "\n"))
	if err != nil {
		return nil, err
	}
	return &AppAuth{
		appID:      appID,
		privateKey: key,
		opts:       opts.withDefaults(),
		tokens:     make(map[int64]cachedToken),
	}, nil
}

func parsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("github: failed to decode PEM block from private key")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err == nil {
		return key, nil
	}
	parsed, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if pkcs8Err != nil {
		return nil, fmt.Errorf("github: parsing private key: %w (also tried PKCS8: %v)", err, pkcs8Err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("github: private key is not RSA")
	}
	return rsaKey, nil
}

// InstallationToken returns a token for the installation, minting a new one
// when the cached token is missing or within the refresh margin of expiry.
func (a *AppAuth) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.opts.Clock.Now()
	if cached, ok := a.tokens[installationID]; ok && now.Before(cached.expiresAt.Add(-refreshMargin)) {
		return cached.token, nil
	}

	token, err := a.mint(ctx, installationID)
	if err != nil {
		return "", err
	}
	a.tokens[installationID] = cachedToken{token: token, expiresAt: now.Add(tokenLifetime)}
	logger.WithComponent("github").Info("obtained installation token", "installationID", installationID)
	return token, nil
}

// mint exchanges a fresh App JWT for an installation token. Caller holds a.mu.
func (a *AppAuth) mint(ctx context.Context, installationID int64) (string, error) {
	jwt, err := a.generateJWT()
	if err != nil {
		return "", fmt.Errorf("github: generating JWT: %w", err)
	}

	url := a.opts.BaseURL + "/app/installations/" + strconv.FormatInt(installationID, 10) + "/access_tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("github: creating token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("github: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("github: token request returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("github: decoding token response: %w", err)
	}
	if result.Token == "" {
		return "", fmt.Errorf("github: token response carried no token")
	}
	return result.Token, nil
}

// generateJWT creates the RS256 App JWT: issued 60s in the past, valid 9 minutes.
func (a *AppAuth) generateJWT() (string, error) {
	now := a.opts.Clock.Now()

	header := base64URLEncode([]byte(`{"alg":"RS256","typ":"JWT"}`))
	claims, err := json.Marshal(struct {
		IssuedAt  int64  `json:"iat"`
		ExpiresAt int64  `json:"exp"`
		Issuer    string `json:"iss"`
	}{
		IssuedAt:  now.Add(-60 * time.Second).Unix(),
		ExpiresAt: now.Add(9 * time.Minute).Unix(),
		Issuer:    a.appID,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling claims: %w", err)
	}

	signingInput := header + "." + base64URLEncode(claims)
	hash := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, a.privateKey, crypto.SHA256, hash[:])
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signingInput + "." + base64URLEncode(signature), nil
}

func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}
