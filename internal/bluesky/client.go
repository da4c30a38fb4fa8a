// Package bluesky publishes posts to a Bluesky (AT Protocol) account.
//
// Only the three XRPC procedures the bot needs are implemented:
// com.atproto.server.createSession, com.atproto.identity.resolveHandle and
// com.atproto.repo.createRecord.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultServiceURL is the PDS entryway used when none is configured.
	DefaultServiceURL = "https://bsky.social"

	// PostCollection is the record collection for posts.
	PostCollection = "app.bsky.feed.post"

	nsidCreateSession = "com.atproto.server.createSession"
	nsidResolveHandle = "com.atproto.identity.resolveHandle"
	nsidCreateRecord  = "com.atproto.repo.createRecord"

	maxResponseSize = 1 << 20
)

// ErrNoSession is returned when a call needing authentication has no session.
var ErrNoSession = errors.New("not logged in")

// APIError is an XRPC error response.
type APIError struct {
	NSID       string `json:"-"`
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("xrpc %s: HTTP %d", e.NSID, e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// IsAPIError reports whether err is an XRPC error response, optionally with
// the given error code.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return code == "" || apiErr.Code == code
}

// Session holds the tokens of a logged-in account.
type Session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`

	// ExpiresAt is read from the access token; zero when the token carries
	// no expiry.
	ExpiresAt time.Time `json:"-"`
}

// Receipt identifies a created record.
type Receipt struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Client talks XRPC to a single PDS.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a client for serviceURL. A nil httpClient uses
// http.DefaultClient; a nil logger uses slog.Default().
func NewClient(serviceURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if serviceURL == "" {
		serviceURL = DefaultServiceURL
	}
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid service URL %q: %w", serviceURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid service URL %q: want http(s)://host", serviceURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   strings.TrimRight(serviceURL, "/"),
		http:   httpClient,
		logger: logger.With("component", "bluesky"),
	}, nil
}

// ServiceURL returns the PDS base URL.
func (c *Client) ServiceURL() string {
	return c.base
}

// Login creates a session with a handle or email and an app password.
func (c *Client) Login(ctx context.Context, identifier, password string) (*Session, error) {
	in := struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}{identifier, password}

	var sess Session
	if err := c.call(ctx, http.MethodPost, nsidCreateSession, nil, "", in, &sess); err != nil {
		return nil, err
	}
	if sess.AccessJwt == "" || sess.DID == "" {
		return nil, fmt.Errorf("xrpc %s: response without token or DID", nsidCreateSession)
	}

	exp, err := tokenExpiry(sess.AccessJwt)
	if err != nil {
		c.logger.Debug("cannot read access token expiry", "error", err)
	}
	sess.ExpiresAt = exp

	c.logger.Info("logged in",
		"handle", sess.Handle,
		"did", sess.DID,
		"expires_at", exp,
	)
	return &sess, nil
}

// ResolveHandle returns the DID behind a handle.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	q := url.Values{"handle": {handle}}
	var out struct {
		DID string `json:"did"`
	}
	if err := c.call(ctx, http.MethodGet, nsidResolveHandle, q, "", nil, &out); err != nil {
		return "", err
	}
	if out.DID == "" {
		return "", fmt.Errorf("xrpc %s: empty DID for %q", nsidResolveHandle, handle)
	}
	return out.DID, nil
}

// CreatePost stores post in the session's repository.
func (c *Client) CreatePost(ctx context.Context, sess *Session, post Post) (Receipt, error) {
	if sess == nil || sess.AccessJwt == "" {
		return Receipt{}, ErrNoSession
	}
	in := struct {
		Repo       string `json:"repo"`
		Collection string `json:"collection"`
		Record     Post   `json:"record"`
	}{sess.DID, PostCollection, post}

	var out Receipt
	if err := c.call(ctx, http.MethodPost, nsidCreateRecord, nil, sess.AccessJwt, in, &out); err != nil {
		return Receipt{}, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method, nsid string, query url.Values, token string, in, out any) error {
	endpoint := c.base + "/xrpc/" + nsid
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", nsid, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("building %s request: %w", nsid, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("xrpc %s: %w", nsid, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", nsid, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{NSID: nsid, StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || (apiErr.Code == "" && apiErr.Message == "") {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", nsid, err)
	}
	return nil
}

// tokenExpiry reads the exp claim of a JWT without verifying its signature.
// The PDS is the only party that validates the token.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, err
	}
	return exp.Time, nil
}
