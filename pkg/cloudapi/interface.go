package cloudapi

import (
	"context"

	"github.com/chargebridge/chargebridge/pkg/types"
)

// Session holds the bearer token obtained from login. It is owned by the
// bridge, which sets it on the client after a successful login and zeroes it
// when a login attempt fails.
type Session struct {
	Token         string
	Authenticated bool
}

// API defines the interface for the remote charge-point cloud service.
type API interface {
	// Login authenticates with the cloud and returns a bearer token.
	Login(ctx context.Context, email, password string) (string, error)

	// OwnedChargePoints returns the charge points owned by the account.
	OwnedChargePoints(ctx context.Context) ([]types.ChargePoint, error)

	// Status returns the current status object of a charge point.
	Status(ctx context.Context, chargePointID string) (map[string]any, error)

	// Settings returns the settings object of a charge point.
	Settings(ctx context.Context, chargePointID string) (map[string]any, error)

	// ConnectorSettings returns the settings object of a single connector.
	ConnectorSettings(ctx context.Context, chargePointID, connectorID string) (map[string]any, error)

	// UpdateConnectorSettings writes the given settings to a connector.
	UpdateConnectorSettings(ctx context.Context, chargePointID, connectorID string, settings map[string]any) error

	// Reboot restarts a charge point.
	Reboot(ctx context.Context, chargePointID string) error

	// RemoteStart starts charging on a connector.
	RemoteStart(ctx context.Context, chargePointID, connectorID string) error

	// RemoteStop stops charging on a connector.
	RemoteStop(ctx context.Context, chargePointID, connectorID string) error

	// SetSession replaces the session used for authenticated calls.
	SetSession(s Session)

	// Session returns the session currently in use.
	Session() Session
}
