// Package twitchapi contains the minimal Twitch identity helper used to find
// the login that owns the chat OAuth token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultValidateURL is the Twitch token introspection endpoint.
const DefaultValidateURL = "https://id.twitch.tv/oauth2/validate"

// TokenInfo describes a user access token.
type TokenInfo struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// HasScope reports whether the token carries scope.
func (ti *TokenInfo) HasScope(scope string) bool {
	for _, s := range ti.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Validator calls the validate endpoint.
type Validator struct {
	URL        string
	HTTPClient *http.Client
}

func (v *Validator) http() *http.Client {
	if v.HTTPClient != nil {
		return v.HTTPClient
	}
	return http.DefaultClient
}

// ValidateToken resolves token against the default endpoint.
func ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	return (&Validator{}).Validate(ctx, token)
}

// Validate returns the token's owner and scopes. The "oauth:" prefix used by
// IRC PASS is accepted and stripped.
func (v *Validator) Validate(ctx context.Context, token string) (*TokenInfo, error) {
	token = strings.TrimPrefix(strings.TrimSpace(token), "oauth:")
	if token == "" {
		return nil, errors.New("token empty")
	}
	endpoint := v.URL
	if endpoint == "" {
		endpoint = DefaultValidateURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+token)
	resp, err := v.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("twitch token validation failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var info TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode validate response: %w", err)
	}
	if info.Login == "" {
		return nil, errors.New("validate response has no login")
	}
	return &info, nil
}
