package cloudapi

import (
	"context"
	"sync"

	"github.com/chargebridge/chargebridge/pkg/types"
)

// SettingsUpdate records a single UpdateConnectorSettings call on the mock.
type SettingsUpdate struct {
	ChargePointID string
	ConnectorID   string
	Settings      map[string]any
}

// Mock implements API for tests. It records every call and serves canned
// responses configured by the test.
type Mock struct {
	mu      sync.Mutex
	session Session

	Token           string
	LoginErr        error
	ChargePoints    []types.ChargePoint
	ChargePointsErr error

	StatusByID            map[string]map[string]any
	StatusErrByID         map[string]error
	SettingsByID          map[string]map[string]any
	SettingsErrByID       map[string]error
	ConnectorSettingsByID map[string]map[string]any // keyed by "<cp>/<connector>"

	RebootErr error
	StartErr  error
	StopErr   error
	UpdateErr error

	Calls    int
	Rebooted []string
	Started  []string // "<cp>/<connector>"
	Stopped  []string // "<cp>/<connector>"
	Updates  []SettingsUpdate
}

func (m *Mock) record() {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
}

func (m *Mock) Login(ctx context.Context, email, password string) (string, error) {
	m.record()
	if m.LoginErr != nil {
		return "", m.LoginErr
	}
	if m.Token == "" {
		return "mock-token", nil
	}
	return m.Token, nil
}

func (m *Mock) OwnedChargePoints(ctx context.Context) ([]types.ChargePoint, error) {
	m.record()
	if m.ChargePointsErr != nil {
		return nil, m.ChargePointsErr
	}
	return m.ChargePoints, nil
}

func (m *Mock) Status(ctx context.Context, chargePointID string) (map[string]any, error) {
	m.record()
	if err := m.StatusErrByID[chargePointID]; err != nil {
		return nil, err
	}
	return m.StatusByID[chargePointID], nil
}

func (m *Mock) Settings(ctx context.Context, chargePointID string) (map[string]any, error) {
	m.record()
	if err := m.SettingsErrByID[chargePointID]; err != nil {
		return nil, err
	}
	return m.SettingsByID[chargePointID], nil
}

func (m *Mock) ConnectorSettings(ctx context.Context, chargePointID, connectorID string) (map[string]any, error) {
	m.record()
	return m.ConnectorSettingsByID[chargePointID+"/"+connectorID], nil
}

func (m *Mock) UpdateConnectorSettings(ctx context.Context, chargePointID, connectorID string, settings map[string]any) error {
	m.record()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	m.Updates = append(m.Updates, SettingsUpdate{
		ChargePointID: chargePointID,
		ConnectorID:   connectorID,
		Settings:      settings,
	})
	m.mu.Unlock()
	return nil
}

func (m *Mock) Reboot(ctx context.Context, chargePointID string) error {
	m.record()
	if m.RebootErr != nil {
		return m.RebootErr
	}
	m.mu.Lock()
	m.Rebooted = append(m.Rebooted, chargePointID)
	m.mu.Unlock()
	return nil
}

func (m *Mock) RemoteStart(ctx context.Context, chargePointID, connectorID string) error {
	m.record()
	if m.StartErr != nil {
		return m.StartErr
	}
	m.mu.Lock()
	m.Started = append(m.Started, chargePointID+"/"+connectorID)
	m.mu.Unlock()
	return nil
}

func (m *Mock) RemoteStop(ctx context.Context, chargePointID, connectorID string) error {
	m.record()
	if m.StopErr != nil {
		return m.StopErr
	}
	m.mu.Lock()
	m.Stopped = append(m.Stopped, chargePointID+"/"+connectorID)
	m.mu.Unlock()
	return nil
}

// RebootedChargePoints returns a copy of Rebooted that is safe to read while
// another goroutine is still driving the mock.
func (m *Mock) RebootedChargePoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Rebooted...)
}

func (m *Mock) SetSession(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
}

func (m *Mock) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}
