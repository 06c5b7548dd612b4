package authgate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/one-zero-eight/printers/apperr"
)

// AccountsClient talks to the accounts service: it resolves telegram ids
// to owner ids and exposes the JWKS endpoint user tokens are verified
// against.
type AccountsClient struct {
	baseURL  string
	jwtToken string
	http     *http.Client
}

// NewAccountsClient returns a client for the accounts API at baseURL.
// jwtToken authorizes the service-to-service lookup calls.
func NewAccountsClient(baseURL, jwtToken string) *AccountsClient {
	return &AccountsClient{
		baseURL:  baseURL,
		jwtToken: jwtToken,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// JWKSURL is where the accounts service publishes its signing keys.
func (c *AccountsClient) JWKSURL() string {
	return c.baseURL + "/.well-known/jwks.json"
}

type userResponse struct {
	ID string `json:"id"`
}

// ResolveTelegramID maps a telegram numeric id to the accounts owner id.
func (c *AccountsClient) ResolveTelegramID(ctx context.Context, telegramID string) (string, error) {
	u := fmt.Sprintf("%s/users/by-telegram-id/%s", c.baseURL, url.PathEscape(telegramID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrBackend, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.jwtToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("accounts request: %w: %v", apperr.ErrBackend, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("telegram id %s is not linked to an account: %w", telegramID, apperr.ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("accounts status %d: %w", resp.StatusCode, apperr.ErrBackend)
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("decode accounts response: %w: %v", apperr.ErrBackend, err)
	}
	if user.ID == "" {
		return "", fmt.Errorf("accounts returned an empty user id: %w", apperr.ErrBackend)
	}
	return user.ID, nil
}
