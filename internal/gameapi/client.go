package gameapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"woodland-client/internal/model"
	appErr "woodland-client/pkg/errors"
	"woodland-client/pkg/logger"
	netutil "woodland-client/pkg/utils/net"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Credentials is the part of the session the client needs.
type Credentials interface {
	Credential() (string, error)
	ClearCredential()
}

// Client talks to the game server's REST API. Every call is bounded by the
// http client timeout; there are no internal retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	logger     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, creds Credentials) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
		logger:     logger.Named("gameapi"),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type authMode int

const (
	authOptional authMode = iota
	authRequired
)

type errorBody struct {
	Detail any `json:"detail"`
}

func (c *Client) do(ctx context.Context, method, url string, auth authMode, body, out any) error {
	requestID := uuid.NewString()
	log := c.logger.With(zap.String("method", method), zap.String("url", url), zap.String("requestID", requestID))

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.creds != nil {
		token, err := c.creds.Credential()
		switch {
		case err == nil:
			req.Header.Set("Authorization", "Bearer "+token)
		case auth == authRequired:
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("request failed", zap.Error(err))
		return fmt.Errorf("%w: %w", appErr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading body: %w", appErr.ErrNetwork, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		log.Warn("server refused credential")
		if c.creds != nil {
			c.creds.ClearCredential()
		}
		return fmt.Errorf("%w: status %d", appErr.ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rej := &appErr.RejectionError{Status: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			if detail, ok := eb.Detail.(string); ok {
				rej.Detail = detail
			}
		}
		log.Info("server rejected request", zap.Int("status", resp.StatusCode), zap.String("detail", rej.Detail))
		return rej
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Error("failed to decode response", zap.Error(err))
		return fmt.Errorf("%w: %w", appErr.ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) CurrentAction(ctx context.Context, gameID model.GameID) (*model.ActionRoute, error) {
	var route model.ActionRoute
	url := fmt.Sprintf("%s/api/game/current-action/%d/", c.baseURL, gameID)
	if err := c.do(ctx, http.MethodGet, url, authRequired, nil, &route); err != nil {
		return nil, err
	}
	if route.Route == "" {
		return nil, fmt.Errorf("%w: empty route", appErr.ErrMalformedResponse)
	}
	return &route, nil
}

func (c *Client) ActionStep(ctx context.Context, gameID model.GameID, route string) (*model.ActionStep, error) {
	var step model.ActionStep
	url := fmt.Sprintf("%s?game_id=%d", netutil.JoinURL(c.baseURL, route), gameID)
	if err := c.do(ctx, http.MethodGet, url, authRequired, nil, &step); err != nil {
		return nil, err
	}
	if step.Name == "" {
		return nil, fmt.Errorf("%w: step without name", appErr.ErrMalformedResponse)
	}
	return &step, nil
}

// SubmitStep posts a composed payload to {route}{gameId}/{endpoint}/ and
// returns the server's answer: the next step, or a step named "completed".
func (c *Client) SubmitStep(ctx context.Context, gameID model.GameID, route, endpoint string, payload model.CompletedPayload) (*model.ActionStep, error) {
	base := netutil.JoinURL(c.baseURL, route)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	url := fmt.Sprintf("%s%d/%s/", base, gameID, strings.Trim(endpoint, "/"))

	var step model.ActionStep
	if err := c.do(ctx, http.MethodPost, url, authRequired, payload, &step); err != nil {
		return nil, err
	}
	if step.Name == "" {
		return nil, fmt.Errorf("%w: step without name", appErr.ErrMalformedResponse)
	}
	return &step, nil
}

func (c *Client) Undo(ctx context.Context, gameID model.GameID) error {
	url := fmt.Sprintf("%s/api/game/undo/%d/", c.baseURL, gameID)
	if err := c.do(ctx, http.MethodPost, url, authRequired, nil, nil); err != nil {
		if errors.Is(err, appErr.ErrRejected) {
			return fmt.Errorf("%w: %w", appErr.ErrUndoFailed, err)
		}
		return err
	}
	return nil
}

func (c *Client) ObtainToken(ctx context.Context, username, password string) (string, string, error) {
	var tokens struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/token/", authOptional, body, &tokens); err != nil {
		return "", "", err
	}
	if tokens.Access == "" {
		return "", "", fmt.Errorf("%w: no access token", appErr.ErrMalformedResponse)
	}
	return tokens.Access, tokens.Refresh, nil
}
