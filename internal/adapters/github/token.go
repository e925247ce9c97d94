/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package github

import (
    "context"
    "crypto/rsa"
    "fmt"
    "os"
    "strconv"
    "sync"
    "time"

    "github.com/HamedShams/review-pulse/internal/config"
    "github.com/golang-jwt/jwt/v5"
    "github.com/rs/zerolog"
    "golang.org/x/sync/singleflight"
)

// Installation tokens live about an hour; refresh this long before expiry
// so an in-flight run never crosses the boundary mid-pagination.
const tokenExpiryBuffer = 60 * time.Second

// App assertions are short-lived by contract (10 minute ceiling). issuedAt
// is backdated slightly to absorb clock skew against the platform.
const (
    appJWTLifetime  = 9 * time.Minute
    appJWTClockSkew = 30 * time.Second
)

// TokenProvider mints installation tokens for the app identity and caches
// the current one in process memory. Single tenant, so the cache is keyed
// by nothing.
type TokenProvider struct {
    appID     int64
    installID int64
    key       *rsa.PrivateKey
    client    *Client
    log       zerolog.Logger

    mu        sync.Mutex
    token     string
    expiresAt time.Time
    group     singleflight.Group
}

func newTokenProvider(cfg config.Config, log zerolog.Logger, c *Client) (*TokenProvider, error) {
    if cfg.GitHubAppID == 0 || cfg.GitHubInstallID == 0 {
        return nil, fmt.Errorf("%w: GITHUB_APP_ID and GITHUB_INSTALLATION_ID are required", ErrConfig)
    }
    pem := cfg.GitHubPrivateKey
    if pem == "" && cfg.GitHubKeyFile != "" {
        b, err := os.ReadFile(cfg.GitHubKeyFile)
        if err != nil { return nil, fmt.Errorf("%w: read key file: %v", ErrConfig, err) }
        pem = string(b)
    }
    if pem == "" { return nil, fmt.Errorf("%w: app private key missing", ErrConfig) }
    key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
    if err != nil { return nil, fmt.Errorf("%w: parse private key: %v", ErrConfig, err) }
    return &TokenProvider{appID: cfg.GitHubAppID, installID: cfg.GitHubInstallID, key: key, client: c, log: log}, nil
}

// Token returns the cached installation token, minting a fresh one when the
// cached value is within the expiry buffer. Concurrent callers during a
// refresh share one in-flight exchange.
func (tp *TokenProvider) Token(ctx context.Context) (string, error) {
    tp.mu.Lock()
    if tp.token != "" && time.Now().Before(tp.expiresAt.Add(-tokenExpiryBuffer)) {
        tok := tp.token
        tp.mu.Unlock()
        return tok, nil
    }
    tp.mu.Unlock()

    v, err, _ := tp.group.Do("token", func() (any, error) {
        // Re-check under the flight: a sibling may have refreshed already.
        tp.mu.Lock()
        if tp.token != "" && time.Now().Before(tp.expiresAt.Add(-tokenExpiryBuffer)) {
            tok := tp.token
            tp.mu.Unlock()
            return tok, nil
        }
        tp.mu.Unlock()
        return tp.refresh(ctx)
    })
    if err != nil { return "", err }
    return v.(string), nil
}

func (tp *TokenProvider) refresh(ctx context.Context) (string, error) {
    assertion, err := tp.appJWT()
    if err != nil { return "", err }
    token, expiresAt, err := tp.client.createInstallationToken(ctx, assertion, tp.installID)
    if err != nil { return "", err }
    tp.mu.Lock()
    tp.token = token
    tp.expiresAt = expiresAt
    tp.mu.Unlock()
    tp.log.Info().Time("expires_at", expiresAt).Msg("github installation token minted")
    return token, nil
}

// Invalidate clears the cached token so the next call forces a fresh mint.
// Called after any downstream 401/403.
func (tp *TokenProvider) Invalidate() {
    tp.mu.Lock()
    tp.token = ""
    tp.expiresAt = time.Time{}
    tp.mu.Unlock()
}

func (tp *TokenProvider) appJWT() (string, error) {
    now := time.Now()
    claims := jwt.RegisteredClaims{
        Issuer:    strconv.FormatInt(tp.appID, 10),
        IssuedAt:  jwt.NewNumericDate(now.Add(-appJWTClockSkew)),
        ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(tp.key)
    if err != nil { return "", fmt.Errorf("github: sign app jwt: %w", err) }
    return signed, nil
}
