/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package github

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"
    "time"

    "github.com/HamedShams/review-pulse/internal/config"
    "github.com/rs/zerolog"
)

const apiVersion = "2022-11-28"

// ErrConfig marks missing credentials or identifiers. Never retried.
var ErrConfig = errors.New("github: configuration error")

// StatusError is a non-2xx upstream response. The retry executor classifies
// on the code; 429/5xx retryable, other 4xx not.
type StatusError struct {
    Code int
    Body string
}

func (e *StatusError) Error() string { return fmt.Sprintf("github api status=%d body=%s", e.Code, e.Body) }
func (e *StatusError) StatusCode() int { return e.Code }

// IsAuthError reports a 401/403 response, which callers answer by
// invalidating the cached installation token and retrying once.
func IsAuthError(err error) bool {
    var se *StatusError
    return errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden)
}

type Client struct {
    baseURL string
    http    *http.Client
    log     zerolog.Logger
    tokens  *TokenProvider
}

func NewClient(cfg config.Config, log zerolog.Logger) (*Client, error) {
    c := &Client{
        baseURL: strings.TrimRight(cfg.GitHubAPIBaseURL, "/"),
        http:    &http.Client{Timeout: cfg.HTTPTimeout},
        log:     log,
    }
    tp, err := newTokenProvider(cfg, log, c)
    if err != nil { return nil, err }
    c.tokens = tp
    return c, nil
}

// Tokens exposes the provider so the orchestrator can invalidate after
// authorization failures.
func (c *Client) Tokens() *TokenProvider { return c.tokens }

func (c *Client) apiURL(path string, q url.Values) string {
    if !strings.HasPrefix(path, "/") { path = "/" + path }
    u := c.baseURL + path
    if len(q) > 0 { u = u + "?" + q.Encode() }
    return u
}

// do performs one request with the fixed identifying header set. bearer is
// passed explicitly: installation token for data calls, app JWT for the
// token exchange itself.
func (c *Client) do(ctx context.Context, method, u, bearer string, body any, extra http.Header) (*http.Response, error) {
    var r io.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil { return nil, err }
        r = bytes.NewReader(b)
    }
    req, err := http.NewRequestWithContext(ctx, method, u, r)
    if err != nil { return nil, err }
    req.Header.Set("Accept", "application/vnd.github+json")
    req.Header.Set("X-GitHub-Api-Version", apiVersion)
    req.Header.Set("User-Agent", "review-pulse")
    if bearer != "" { req.Header.Set("Authorization", "Bearer "+bearer) }
    if body != nil { req.Header.Set("Content-Type", "application/json") }
    for k, vs := range extra { for _, v := range vs { req.Header.Set(k, v) } }
    return c.http.Do(req)
}

// authDo runs a data call with the current installation token, transparently
// invalidating and re-minting once on 401/403.
func (c *Client) authDo(ctx context.Context, method, u string, body any, extra http.Header) (*http.Response, error) {
    tok, err := c.tokens.Token(ctx)
    if err != nil { return nil, err }
    resp, err := c.do(ctx, method, u, tok, body, extra)
    if err != nil { return nil, err }
    if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
        drain(resp)
        c.log.Warn().Int("status", resp.StatusCode).Str("url", u).Msg("github auth rejected, re-minting token")
        c.tokens.Invalidate()
        tok, err = c.tokens.Token(ctx)
        if err != nil { return nil, err }
        return c.do(ctx, method, u, tok, body, extra)
    }
    return resp, nil
}

func drain(resp *http.Response) {
    _, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
    _ = resp.Body.Close()
}

func statusErr(resp *http.Response) error {
    b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
    return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// ---- open-set listing (REST, conditional) ----

type IssueLabel struct {
    Name string `json:"name"`
}

// IssueItem is one row of the repository issue listing. PullRequest is
// non-nil only for true pull requests.
type IssueItem struct {
    ID          int64        `json:"id"`
    Number      int          `json:"number"`
    Title       string       `json:"title"`
    HTMLURL     string       `json:"html_url"`
    CreatedAt   time.Time    `json:"created_at"`
    Labels      []IssueLabel `json:"labels"`
    PullRequest *struct{}    `json:"pull_request,omitempty"`
}

type OpenPage struct {
    Items       []IssueItem
    ETag        string // set on page 1 responses only
    NotModified bool   // conditional request matched; Items empty
}

// ListOpenPage fetches one page of open, label-filtered issues sorted by
// recency. etag is sent as If-None-Match on page 1; a 304 short-circuits
// the whole fetch upstream of us.
func (c *Client) ListOpenPage(ctx context.Context, owner, repo, label string, page, perPage int, etag string) (*OpenPage, error) {
    q := url.Values{}
    q.Set("labels", label)
    q.Set("state", "open")
    q.Set("sort", "created")
    q.Set("direction", "desc")
    q.Set("per_page", fmt.Sprint(perPage))
    q.Set("page", fmt.Sprint(page))
    u := c.apiURL(fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(owner), url.PathEscape(repo)), q)
    var extra http.Header
    if page == 1 && etag != "" { extra = http.Header{"If-None-Match": []string{etag}} }
    resp, err := c.authDo(ctx, http.MethodGet, u, nil, extra)
    if err != nil { return nil, err }
    defer resp.Body.Close()
    if resp.StatusCode == http.StatusNotModified { return &OpenPage{NotModified: true, ETag: etag}, nil }
    if resp.StatusCode >= 300 { return nil, statusErr(resp) }
    var items []IssueItem
    if err := json.NewDecoder(resp.Body).Decode(&items); err != nil { return nil, err }
    out := &OpenPage{Items: items}
    if page == 1 { out.ETag = resp.Header.Get("ETag") }
    return out, nil
}

// ---- merged-set tripwire (REST search count) ----

// SearchMergedCount asks for the number of merged PRs since the watermark,
// requesting a single result; only total_count matters.
func (c *Client) SearchMergedCount(ctx context.Context, owner, repo string, since time.Time) (int, error) {
    query := fmt.Sprintf("repo:%s/%s is:pr is:merged merged:>%s", owner, repo, since.UTC().Format(time.RFC3339))
    q := url.Values{}
    q.Set("q", query)
    q.Set("per_page", "1")
    u := c.apiURL("/search/issues", q)
    resp, err := c.authDo(ctx, http.MethodGet, u, nil, nil)
    if err != nil { return 0, err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 { return 0, statusErr(resp) }
    var out struct {
        TotalCount int `json:"total_count"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&out); err != nil { return 0, err }
    return out.TotalCount, nil
}

// ---- merged-set bulk fetch (GraphQL search) ----

const mergedSearchQuery = `query($q: String!, $first: Int!, $after: String) {
  search(query: $q, type: ISSUE, first: $first, after: $after) {
    pageInfo { hasNextPage endCursor }
    nodes {
      ... on PullRequest {
        databaseId
        title
        url
        createdAt
        mergedAt
        changedFiles
        commits { totalCount }
        labels(first: 20) { nodes { name } }
      }
    }
  }
}`

type MergedNode struct {
    DatabaseID   int64      `json:"databaseId"`
    Title        string     `json:"title"`
    URL          string     `json:"url"`
    CreatedAt    time.Time  `json:"createdAt"`
    MergedAt     *time.Time `json:"mergedAt"`
    ChangedFiles int        `json:"changedFiles"`
    Commits      struct {
        TotalCount int `json:"totalCount"`
    } `json:"commits"`
    Labels struct {
        Nodes []IssueLabel `json:"nodes"`
    } `json:"labels"`
}

type MergedPage struct {
    Nodes       []MergedNode
    HasNextPage bool
    EndCursor   string
}

// SearchMergedPage fetches one cursor page of merged PRs from the bulk
// search endpoint.
func (c *Client) SearchMergedPage(ctx context.Context, owner, repo string, mergedSince time.Time, first int, after string) (*MergedPage, error) {
    searchQ := fmt.Sprintf("repo:%s/%s is:pr is:merged merged:>=%s", owner, repo, mergedSince.UTC().Format("2006-01-02"))
    vars := map[string]any{"q": searchQ, "first": first}
    if after != "" { vars["after"] = after }
    body := map[string]any{"query": mergedSearchQuery, "variables": vars}
    resp, err := c.authDo(ctx, http.MethodPost, c.apiURL("/graphql", nil), body, nil)
    if err != nil { return nil, err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 { return nil, statusErr(resp) }
    var out struct {
        Data struct {
            Search struct {
                PageInfo struct {
                    HasNextPage bool   `json:"hasNextPage"`
                    EndCursor   string `json:"endCursor"`
                } `json:"pageInfo"`
                Nodes []MergedNode `json:"nodes"`
            } `json:"search"`
        } `json:"data"`
        Errors []struct {
            Message string `json:"message"`
        } `json:"errors"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&out); err != nil { return nil, err }
    if len(out.Errors) > 0 { return nil, fmt.Errorf("github graphql: %s", out.Errors[0].Message) }
    return &MergedPage{
        Nodes:       out.Data.Search.Nodes,
        HasNextPage: out.Data.Search.PageInfo.HasNextPage,
        EndCursor:   out.Data.Search.PageInfo.EndCursor,
    }, nil
}

// ---- installation token exchange ----

// createInstallationToken trades a signed app assertion for a short-lived
// installation token.
func (c *Client) createInstallationToken(ctx context.Context, appJWT string, installID int64) (string, time.Time, error) {
    u := c.apiURL(fmt.Sprintf("/app/installations/%d/access_tokens", installID), nil)
    resp, err := c.do(ctx, http.MethodPost, u, appJWT, nil, nil)
    if err != nil { return "", time.Time{}, err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 { return "", time.Time{}, statusErr(resp) }
    var out struct {
        Token     string    `json:"token"`
        ExpiresAt time.Time `json:"expires_at"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&out); err != nil { return "", time.Time{}, err }
    if out.Token == "" { return "", time.Time{}, errors.New("github: empty installation token") }
    return out.Token, out.ExpiresAt, nil
}
