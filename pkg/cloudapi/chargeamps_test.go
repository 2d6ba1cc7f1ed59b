package cloudapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChargeAmps(t *testing.T) {
	t.Run("Login", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/v5/auth/login" {
				require.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "key-123", r.Header.Get("apiKey"))
				assert.Empty(t, r.Header.Get("Authorization"), "no bearer token before login")

				var body loginRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "user@example.com", body.Email)
				assert.Equal(t, "pass", body.Password)

				json.NewEncoder(w).Encode(map[string]any{"token": "fake-token-123"})
				return
			}
			http.Error(w, "not found", 404)
		}))
		defer ts.Close()

		c := NewChargeAmps(ts.Client(), ts.URL+"/api/v5", "key-123")

		token, err := c.Login(context.Background(), "user@example.com", "pass")
		require.NoError(t, err, "login should succeed")
		assert.Equal(t, "fake-token-123", token)
	})

	t.Run("LoginRejected", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
		}))
		defer ts.Close()

		c := NewChargeAmps(ts.Client(), ts.URL, "key-123")

		_, err := c.Login(context.Background(), "user@example.com", "wrong")
		require.Error(t, err)
		assert.ErrorContains(t, err, "status 401")
	})

	t.Run("LoginMissingToken", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{})
		}))
		defer ts.Close()

		c := NewChargeAmps(ts.Client(), ts.URL, "key-123")

		_, err := c.Login(context.Background(), "user@example.com", "pass")
		assert.ErrorContains(t, err, "missing token")
	})

	t.Run("OwnedChargePoints", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/chargepoints/owned" {
				assert.Equal(t, "key-123", r.Header.Get("apiKey"))
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				json.NewEncoder(w).Encode([]map[string]any{
					{"id": "CP1", "name": "Garage", "connectors": []map[string]any{
						{"chargePointId": "CP1", "connectorId": 1},
					}},
					{"id": "CP2", "name": "Driveway"},
				})
				return
			}
			http.Error(w, "not found: "+r.URL.Path, 404)
		}))
		defer ts.Close()

		c := NewChargeAmps(ts.Client(), ts.URL, "key-123")
		c.SetSession(Session{Token: "tok", Authenticated: true})

		cps, err := c.OwnedChargePoints(context.Background())
		require.NoError(t, err)
		require.Len(t, cps, 2)
		assert.Equal(t, "CP1", cps[0].ID)
		assert.Equal(t, []string{"1"}, cps[0].ConnectorIDs())
		assert.Equal(t, "CP2", cps[1].ID)
	})

	t.Run("StatusAndSettings", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/chargepoints/CP1/status":
				json.NewEncoder(w).Encode(map[string]any{"connected": true, "totalPower": 3.7})
			case "/chargepoints/CP1/settings":
				json.NewEncoder(w).Encode(map[string]any{"dimmer": "medium"})
			case "/chargepoints/CP1/connectors/2/settings":
				json.NewEncoder(w).Encode(map[string]any{"maxCurrent": 16.0, "mode": "on"})
			default:
				http.Error(w, "not found: "+r.URL.Path, 404)
			}
		}))
		defer ts.Close()

		c := NewChargeAmps(ts.Client(), ts.URL, "key-123")
		c.SetSession(Session{Token: "tok", Authenticated: true})
		ctx := context.Background()

		status, err := c.Status(ctx, "CP1")
		require.NoError(t, err)
		assert.Equal(t, true, status["connected"])
		assert.Equal(t, 3.7, status["totalPower"])

		settings, err := c.Settings(ctx, "CP1")
		require.NoError(t, err)
		assert.Equal(t, "medium", settings["dimmer"])

		connSettings, err := c.ConnectorSettings(ctx, "CP1", "2")
		require.NoError(t, err)
		assert.Equal(t, 16.0, connSettings["maxCurrent"])
	})

	t.Run("Actions", func(t *testing.T) {
		var calls []string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPut, r.Method)
			calls = append(calls, r.URL.Path)
			switch r.URL.Path {
			case "/chargepoints/CP1/reboot":
			case "/chargepoints/CP1/connectors/1/remoteStart":
			case "/chargepoints/CP1/connectors/1/remoteStop":
			case "/chargepoints/CP1/connectors/2/settings":
				var body map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, map[string]any{"maxCurrent": 10.0}, body)
			default:
				http.Error(w, "not found: "+r.URL.Path, 404)
			}
		}))
		defer ts.Close()

		c := NewChargeAmps(ts.Client(), ts.URL, "key-123")
		c.SetSession(Session{Token: "tok", Authenticated: true})
		ctx := context.Background()

		require.NoError(t, c.Reboot(ctx, "CP1"))
		require.NoError(t, c.RemoteStart(ctx, "CP1", "1"))
		require.NoError(t, c.RemoteStop(ctx, "CP1", "1"))
		require.NoError(t, c.UpdateConnectorSettings(ctx, "CP1", "2", map[string]any{"maxCurrent": 10.0}))

		assert.Equal(t, []string{
			"/chargepoints/CP1/reboot",
			"/chargepoints/CP1/connectors/1/remoteStart",
			"/chargepoints/CP1/connectors/1/remoteStop",
			"/chargepoints/CP1/connectors/2/settings",
		}, calls)
	})

	t.Run("ServerError", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer ts.Close()

		c := NewChargeAmps(ts.Client(), ts.URL, "key-123")

		_, err := c.Status(context.Background(), "CP1")
		require.Error(t, err)
		assert.ErrorContains(t, err, "status 500")
	})
}
