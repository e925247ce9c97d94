/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package retry wraps a single upstream read with classification-aware
// exponential backoff. All upstream calls in this system are GET-equivalent,
// so retrying never replays a side effect.
package retry

import (
    "context"
    "errors"
    "math/rand"
    "net"
    "time"

    "github.com/rs/zerolog"
)

type Config struct {
    MaxAttempts int           // attempts including the first; default 5
    BaseDelay   time.Duration // first backoff; default 500ms
    MaxDelay    time.Duration // backoff ceiling; default 8s
}

func DefaultConfig() Config {
    return Config{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

func (c Config) withDefaults() Config {
    if c.MaxAttempts <= 0 { c.MaxAttempts = 5 }
    if c.BaseDelay <= 0 { c.BaseDelay = 500 * time.Millisecond }
    if c.MaxDelay <= 0 { c.MaxDelay = 8 * time.Second }
    return c
}

// statusCoder is implemented by upstream errors that carry an HTTP status.
type statusCoder interface{ StatusCode() int }

// IsRetryable reports whether an upstream error is worth another attempt:
// rate limits, 5xx, and network/timeout conditions. Any other 4xx is a hard
// failure, as is context cancellation.
func IsRetryable(err error) bool {
    if err == nil { return false }
    if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) { return false }
    var sc statusCoder
    if errors.As(err, &sc) {
        code := sc.StatusCode()
        return code == 429 || code >= 500
    }
    var ne net.Error
    if errors.As(err, &ne) { return true }
    var oe *net.OpError
    if errors.As(err, &oe) { return true }
    return false
}

// Do runs fn until it succeeds, returns a non-retryable error, or exhausts
// cfg.MaxAttempts. Backoff doubles from BaseDelay up to MaxDelay with ±20%
// jitter. On exhaustion the last error is returned unchanged so callers can
// still classify it.
func Do[T any](ctx context.Context, cfg Config, log zerolog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
    cfg = cfg.withDefaults()
    var zero T
    var lastErr error
    delay := cfg.BaseDelay
    for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
        if err := ctx.Err(); err != nil {
            if lastErr != nil { return zero, lastErr }
            return zero, err
        }
        out, err := fn(ctx)
        if err == nil { return out, nil }
        lastErr = err
        if !IsRetryable(err) || attempt == cfg.MaxAttempts { return zero, err }
        wait := jitter(delay)
        log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", wait).Msg("retryable upstream failure")
        select {
        case <-time.After(wait):
        case <-ctx.Done():
            return zero, lastErr
        }
        delay *= 2
        if delay > cfg.MaxDelay { delay = cfg.MaxDelay }
    }
    return zero, lastErr
}

// jitter spreads a delay by ±20% to avoid synchronized retries.
func jitter(d time.Duration) time.Duration {
    f := 0.8 + 0.4*rand.Float64()
    return time.Duration(float64(d) * f)
}
