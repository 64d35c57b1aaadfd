// Package client talks to the authkeeper HTTP API.
//
// Client is stateless apart from its base URL: callers keep the access and
// refresh tokens returned by Authenticate and Refresh and pass them back in.
// Transport failures are reported as ErrUnavailable, 401 responses as
// ErrUnauthorized and other non-2xx responses as *APIError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// RegisterRequest creates a user, or updates user ID when it is positive.
type RegisterRequest struct {
	ID        int64  `json:"id,omitempty"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Session is the result of a login or refresh.
type Session struct {
	UserID       int64  `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Username     string `json:"username"`
	AccessToken  string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// RefreshToken is one entry of a token history. The server lists tokens by
// fingerprint only; see common.TokenFingerprint.
type RefreshToken struct {
	Fingerprint string     `json:"fingerprint"`
	Created     time.Time  `json:"created"`
	CreatedByIP string     `json:"createdByIp"`
	Expires     time.Time  `json:"expires"`
	Revoked     *time.Time `json:"revoked,omitempty"`
	RevokedByIP string     `json:"revokedByIp,omitempty"`
	ReplacedBy  string     `json:"replacedBy,omitempty"`
}

// Active reports whether the token can still be redeemed at now.
func (t RefreshToken) Active(now time.Time) bool {
	return t.Revoked == nil && now.Before(t.Expires)
}

type tokenRequest struct {
	Token string `json:"token"`
}

type authenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.do(ctx, http.MethodPost, "/users/register", "", req, nil)
}

func (c *Client) Authenticate(ctx context.Context, username string, password []byte) (*Session, error) {
	var s Session
	req := authenticateRequest{Username: username, Password: string(password)}
	if err := c.do(ctx, http.MethodPost, "/users/authenticate", "", req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Refresh redeems refreshToken for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/users/refresh-token", "", tokenRequest{Token: refreshToken}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Revoke(ctx context.Context, accessToken, refreshToken string) error {
	return c.do(ctx, http.MethodPost, "/users/revoke-token", accessToken, tokenRequest{Token: refreshToken}, nil)
}

func (c *Client) ListUsers(ctx context.Context, accessToken string) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/users", accessToken, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) RefreshTokens(ctx context.Context, accessToken string, userID int64) ([]RefreshToken, error) {
	var tokens []RefreshToken
	path := "/users/" + strconv.FormatInt(userID, 10) + "/refresh-tokens"
	if err := c.do(ctx, http.MethodGet, path, accessToken, nil, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set(common.AccessTokenHeaderName, common.BearerPrefix+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var m messageResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &m); err != nil || m.Message == "" {
		m.Message = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: m.Message}
}
