package cloudapi

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
	"sync"
	"time"

	"github.com/chargebridge/chargebridge/pkg/common"
	"github.com/chargebridge/chargebridge/pkg/log"
	"github.com/chargebridge/chargebridge/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const defaultBaseURL = "https://eapi.charge.space/api/v5"

// ChargeAmps implements the API interface against the Charge Amps cloud
// service. Every request carries the account API key; authenticated requests
// additionally carry the session bearer token.
type ChargeAmps struct {
	client  *http.Client
	baseURL string
	apiKey  string

	mu      sync.Mutex
	session Session
}

// NewChargeAmps creates a client for the given endpoint. It is mainly useful
// for tests; production code should use Configured.
func NewChargeAmps(client *http.Client, baseURL, apiKey string) *ChargeAmps {
	return &ChargeAmps{
		client:  client,
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// Configured sets up the cloud API client based on flags.
func Configured() API {
	baseURL := lflag.String("base-url", defaultBaseURL, "Base URL of the charge point cloud API")
	apiKey := lflag.RequiredString("api-key", "API key sent with every cloud request")

	c := &ChargeAmps{
		client: common.HTTPClient(time.Minute),
	}
	lflag.Do(func() {
		c.baseURL = *baseURL
		c.apiKey = *apiKey
	})
	return c
}

// SetSession replaces the session used for authenticated calls.
func (c *ChargeAmps) SetSession(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// Session returns the session currently in use.
func (c *ChargeAmps) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResult struct {
	Token string `json:"token"`
}

// Login authenticates with the cloud and returns a bearer token.
func (c *ChargeAmps) Login(ctx context.Context, email, password string) (string, error) {
	if email == "" {
		return "", errors.New("missing email")
	}
	if password == "" {
		return "", errors.New("missing password")
	}

	req, err := c.newRequest(ctx, http.MethodPost, loginRequest{Email: email, Password: password}, "auth", "login")
	if err != nil {
		return "", err
	}

	var res loginResult
	if err := c.do(req, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "cloud login failed", slog.Any("error", err))
		return "", fmt.Errorf("login failed: %w", err)
	}
	if res.Token == "" {
		log.Ctx(ctx).ErrorContext(ctx, "cloud login response missing token")
		return "", errors.New("login response missing token")
	}
	log.Ctx(ctx).DebugContext(ctx, "cloud login success", slog.String("email", email))
	return res.Token, nil
}

// OwnedChargePoints returns the charge points owned by the account.
func (c *ChargeAmps) OwnedChargePoints(ctx context.Context) ([]types.ChargePoint, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "chargepoints", "owned")
	if err != nil {
		return nil, err
	}

	var cps []types.ChargePoint
	if err := c.do(req, &cps); err != nil {
		return nil, fmt.Errorf("failed to fetch owned charge points: %w", err)
	}
	return cps, nil
}

// Status returns the current status object of a charge point.
func (c *ChargeAmps) Status(ctx context.Context, chargePointID string) (map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "chargepoints", chargePointID, "status")
	if err != nil {
		return nil, err
	}

	var status map[string]any
	if err := c.do(req, &status); err != nil {
		return nil, fmt.Errorf("failed to fetch status for %s: %w", chargePointID, err)
	}
	return status, nil
}

// Settings returns the settings object of a charge point.
func (c *ChargeAmps) Settings(ctx context.Context, chargePointID string) (map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "chargepoints", chargePointID, "settings")
	if err != nil {
		return nil, err
	}

	var settings map[string]any
	if err := c.do(req, &settings); err != nil {
		return nil, fmt.Errorf("failed to fetch settings for %s: %w", chargePointID, err)
	}
	return settings, nil
}

// ConnectorSettings returns the settings object of a single connector.
func (c *ChargeAmps) ConnectorSettings(ctx context.Context, chargePointID, connectorID string) (map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "chargepoints", chargePointID, "connectors", connectorID, "settings")
	if err != nil {
		return nil, err
	}

	var settings map[string]any
	if err := c.do(req, &settings); err != nil {
		return nil, fmt.Errorf("failed to fetch connector settings for %s/%s: %w", chargePointID, connectorID, err)
	}
	return settings, nil
}

// UpdateConnectorSettings writes the given settings to a connector.
func (c *ChargeAmps) UpdateConnectorSettings(ctx context.Context, chargePointID, connectorID string, settings map[string]any) error {
	req, err := c.newRequest(ctx, http.MethodPut, settings, "chargepoints", chargePointID, "connectors", connectorID, "settings")
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("failed to update connector settings for %s/%s: %w", chargePointID, connectorID, err)
	}
	return nil
}

// Reboot restarts a charge point.
func (c *ChargeAmps) Reboot(ctx context.Context, chargePointID string) error {
	req, err := c.newRequest(ctx, http.MethodPut, nil, "chargepoints", chargePointID, "reboot")
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("failed to reboot %s: %w", chargePointID, err)
	}
	return nil
}

// RemoteStart starts charging on a connector.
func (c *ChargeAmps) RemoteStart(ctx context.Context, chargePointID, connectorID string) error {
	req, err := c.newRequest(ctx, http.MethodPut, nil, "chargepoints", chargePointID, "connectors", connectorID, "remoteStart")
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("failed to remote start %s/%s: %w", chargePointID, connectorID, err)
	}
	return nil
}

// RemoteStop stops charging on a connector.
func (c *ChargeAmps) RemoteStop(ctx context.Context, chargePointID, connectorID string) error {
	req, err := c.newRequest(ctx, http.MethodPut, nil, "chargepoints", chargePointID, "connectors", connectorID, "remoteStop")
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("failed to remote stop %s/%s: %w", chargePointID, connectorID, err)
	}
	return nil
}

func (c *ChargeAmps) newRequest(ctx context.Context, method string, body any, segments ...string) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, segments...)
	if err != nil {
		return nil, err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do executes the request with the apiKey and bearer headers attached and
// decodes the response into dest. Transport and non-2xx failures are logged
// and returned; there are no retries.
func (c *ChargeAmps) do(req *http.Request, dest any) error {
	ctx := req.Context()

	req.Header.Set("apiKey", c.apiKey)
	if s := c.Session(); s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "cloud request failed",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.Any("error", err),
		)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		log.Ctx(ctx).ErrorContext(ctx, "cloud request returned error status",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if dest != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, dest); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decode cloud response",
				slog.String("url", req.URL.String()),
				slog.Any("error", err),
			)
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
