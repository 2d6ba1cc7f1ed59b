package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargebridge/chargebridge/pkg/cloudapi"
	"github.com/chargebridge/chargebridge/pkg/statestore"
	"github.com/chargebridge/chargebridge/pkg/types"
)

func testConfig() types.Config {
	return types.Config{
		Email:    "owner@example.com",
		Password: "hunter2",
		Interval: time.Minute,
	}
}

func chargePoint(t *testing.T, payload string) types.ChargePoint {
	t.Helper()
	var cp types.ChargePoint
	require.NoError(t, json.Unmarshal([]byte(payload), &cp))
	return cp
}

func TestBridgeLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		api := &cloudapi.Mock{
			Token: "tok-1",
			ChargePoints: []types.ChargePoint{
				chargePoint(t, `{"id":"CP1","name":"Garage","connectors":[{"connectorId":1}]}`),
			},
		}
		st := statestore.NewMemory()
		defer st.Close()
		b := New(api, st, testConfig())

		require.True(t, b.Login(ctx))
		assert.Equal(t, cloudapi.Session{Token: "tok-1", Authenticated: true}, api.Session())

		// attributes mirrored read-only
		s, written, err := st.GetState(ctx, "chargebridge.CP1.name")
		require.NoError(t, err)
		require.True(t, written)
		assert.Equal(t, "Garage", s.Value)

		// controls provisioned for the discovered connector
		obj, ok := st.GetObject("chargebridge.CP1.Control.Reboot")
		require.True(t, ok)
		assert.True(t, obj.Writable)
		_, ok = st.GetObject("chargebridge.CP1.Control.RemoteStart_1")
		assert.True(t, ok)
		_, ok = st.GetObject("chargebridge.CP1.Control.RemoteStop_1")
		assert.True(t, ok)
	})

	t.Run("Failure", func(t *testing.T) {
		api := &cloudapi.Mock{LoginErr: errors.New("401")}
		api.SetSession(cloudapi.Session{Token: "stale", Authenticated: true})
		st := statestore.NewMemory()
		defer st.Close()
		b := New(api, st, testConfig())

		require.False(t, b.Login(ctx))
		assert.Equal(t, cloudapi.Session{}, api.Session(), "session zeroed on failure")
	})

	t.Run("DiscoveryFailureKeepsLogin", func(t *testing.T) {
		api := &cloudapi.Mock{ChargePointsErr: errors.New("boom")}
		st := statestore.NewMemory()
		defer st.Close()
		b := New(api, st, testConfig())

		require.True(t, b.Login(ctx))
		assert.True(t, api.Session().Authenticated)
	})
}

func TestBridgeTick(t *testing.T) {
	ctx := context.Background()

	t.Run("UnauthenticatedIsNoop", func(t *testing.T) {
		api := &cloudapi.Mock{}
		st := statestore.NewMemory()
		defer st.Close()
		b := New(api, st, testConfig())

		b.Tick(ctx)
		assert.Zero(t, api.Calls)
	})

	t.Run("MirrorsStatusAndSettings", func(t *testing.T) {
		api := &cloudapi.Mock{
			ChargePoints: []types.ChargePoint{
				chargePoint(t, `{"id":"CP1","connectors":[{"connectorId":1}]}`),
			},
			StatusByID: map[string]map[string]any{
				"CP1": {"connected": true, "totalConsumptionKwh": 12.5},
			},
			SettingsByID: map[string]map[string]any{
				"CP1": {"firmwareVersion": "1.2.3"},
			},
			ConnectorSettingsByID: map[string]map[string]any{
				"CP1/1": {"maxCurrent": 16.0},
			},
		}
		st := statestore.NewMemory()
		defer st.Close()
		b := New(api, st, testConfig())
		require.True(t, b.Login(ctx))

		b.Tick(ctx)

		s, _, err := st.GetState(ctx, "chargebridge.CP1.status.connected")
		require.NoError(t, err)
		assert.Equal(t, true, s.Value)
		assert.True(t, s.Ack)

		s, _, err = st.GetState(ctx, "chargebridge.CP1.settings.firmwareVersion")
		require.NoError(t, err)
		assert.Equal(t, "1.2.3", s.Value)

		// connector settings are writable so users can change them
		obj, ok := st.GetObject("chargebridge.CP1.1.settings.maxCurrent")
		require.True(t, ok)
		assert.True(t, obj.Writable)
		s, _, err = st.GetState(ctx, "chargebridge.CP1.1.settings.maxCurrent")
		require.NoError(t, err)
		assert.Equal(t, 16.0, s.Value)
	})

	t.Run("FailureIsolation", func(t *testing.T) {
		api := &cloudapi.Mock{
			ChargePoints: []types.ChargePoint{
				chargePoint(t, `{"id":"CP1","connectors":[{"connectorId":1}]}`),
				chargePoint(t, `{"id":"CP2","connectors":[{"connectorId":1}]}`),
			},
			StatusErrByID: map[string]error{"CP1": errors.New("timeout")},
			StatusByID: map[string]map[string]any{
				"CP2": {"connected": false},
			},
			SettingsByID: map[string]map[string]any{
				"CP1": {"firmwareVersion": "1.0.0"},
				"CP2": {"firmwareVersion": "2.0.0"},
			},
		}
		st := statestore.NewMemory()
		defer st.Close()
		b := New(api, st, testConfig())
		require.True(t, b.Login(ctx))

		b.Tick(ctx)

		// CP1's status failed but its settings and all of CP2 still synced
		_, _, err := st.GetState(ctx, "chargebridge.CP1.status.connected")
		assert.ErrorIs(t, err, statestore.ErrNotFound)

		s, _, err := st.GetState(ctx, "chargebridge.CP1.settings.firmwareVersion")
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", s.Value)

		s, _, err = st.GetState(ctx, "chargebridge.CP2.status.connected")
		require.NoError(t, err)
		assert.Equal(t, false, s.Value)
	})
}

func TestBridgeHandleChange(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*cloudapi.Mock, *statestore.Memory, *Bridge) {
		api := &cloudapi.Mock{
			ChargePoints: []types.ChargePoint{
				chargePoint(t, `{"id":"CP1","connectors":[{"connectorId":1},{"connectorId":2}]}`),
			},
		}
		st := statestore.NewMemory()
		t.Cleanup(func() { st.Close() })
		b := New(api, st, testConfig())
		require.True(t, b.Login(ctx))
		return api, st, b
	}

	t.Run("AcknowledgedIgnored", func(t *testing.T) {
		api, _, b := setup(t)
		before := api.Calls
		b.HandleChange(ctx, statestore.Change{ID: "chargebridge.CP1.Control.Reboot", Value: true, Ack: true})
		assert.Equal(t, before, api.Calls)
		assert.Empty(t, api.Rebooted)
	})

	t.Run("DeletionIgnored", func(t *testing.T) {
		api, _, b := setup(t)
		before := api.Calls
		b.HandleChange(ctx, statestore.Change{ID: "chargebridge.CP1.Control.Reboot", Deleted: true})
		assert.Equal(t, before, api.Calls)
	})

	t.Run("Reboot", func(t *testing.T) {
		api, _, b := setup(t)
		b.HandleChange(ctx, statestore.Change{ID: "chargebridge.CP1.Control.Reboot", Value: true})
		assert.Equal(t, []string{"CP1"}, api.Rebooted)
	})

	t.Run("RemoteStart", func(t *testing.T) {
		api, _, b := setup(t)
		b.HandleChange(ctx, statestore.Change{ID: "chargebridge.CP1.Control.RemoteStart_1", Value: true})
		assert.Equal(t, []string{"CP1/1"}, api.Started)
	})

	t.Run("RemoteStartMissingConnector", func(t *testing.T) {
		api, _, b := setup(t)
		before := api.Calls
		b.HandleChange(ctx, statestore.Change{ID: "chargebridge.CP1.Control.RemoteStart_", Value: true})
		assert.Equal(t, before, api.Calls)
		assert.Empty(t, api.Started)
	})

	t.Run("RemoteStartUnknownConnector", func(t *testing.T) {
		api, _, b := setup(t)
		before := api.Calls
		b.HandleChange(ctx, statestore.Change{ID: "chargebridge.CP1.Control.RemoteStart_9", Value: true})
		assert.Equal(t, before, api.Calls)
	})

	t.Run("RemoteStop", func(t *testing.T) {
		api, _, b := setup(t)
		b.HandleChange(ctx, statestore.Change{ID: "chargebridge.CP1.Control.RemoteStop_2", Value: true})
		assert.Equal(t, []string{"CP1/2"}, api.Stopped)
	})

	t.Run("SettingUpdate", func(t *testing.T) {
		api, st, b := setup(t)
		id := "chargebridge.CP1.2.settings.maxCurrent"
		meta := statestore.ObjectMeta{Name: "maxCurrent", Kind: statestore.KindNumber, Writable: true}
		require.NoError(t, st.EnsureObject(ctx, id, meta))

		b.HandleChange(ctx, statestore.Change{ID: id, Value: 10.0})

		require.Len(t, api.Updates, 1)
		assert.Equal(t, cloudapi.SettingsUpdate{
			ChargePointID: "CP1",
			ConnectorID:   "2",
			Settings:      map[string]any{"maxCurrent": 10.0},
		}, api.Updates[0])

		// value written back acknowledged
		s, written, err := st.GetState(ctx, id)
		require.NoError(t, err)
		require.True(t, written)
		assert.Equal(t, 10.0, s.Value)
		assert.True(t, s.Ack)
	})

	t.Run("SettingUpdateFailureSkipsAck", func(t *testing.T) {
		api, st, b := setup(t)
		api.UpdateErr = errors.New("503")
		id := "chargebridge.CP1.1.settings.maxCurrent"
		require.NoError(t, st.EnsureObject(ctx, id, statestore.ObjectMeta{Name: "maxCurrent"}))

		b.HandleChange(ctx, statestore.Change{ID: id, Value: 6.0})

		_, written, err := st.GetState(ctx, id)
		require.NoError(t, err)
		assert.False(t, written, "no acknowledgement written when the cloud rejects")
	})

	t.Run("UnknownChargePoint", func(t *testing.T) {
		api, _, b := setup(t)
		b.HandleChange(ctx, statestore.Change{ID: "chargebridge.CP9.Control.Reboot", Value: true})
		assert.Empty(t, api.Rebooted)
	})

	t.Run("MalformedID", func(t *testing.T) {
		api, _, b := setup(t)
		before := api.Calls
		b.HandleChange(ctx, statestore.Change{ID: "garbage", Value: true})
		assert.Equal(t, before, api.Calls)
	})
}

func TestBridgeRequestTick(t *testing.T) {
	ctx := context.Background()
	st := statestore.NewMemory()
	defer st.Close()
	b := New(&cloudapi.Mock{}, st, testConfig())

	// a second request while one is pending is skipped, not queued
	b.RequestTick(ctx)
	b.RequestTick(ctx)
	assert.Len(t, b.tickCh, 1)
}

func TestBridgeRunCommandDuringSync(t *testing.T) {
	// a status payload wider than the change buffer; without filtering, the
	// mirror's own acknowledged writes fill the buffer during a tick and a
	// user command arriving mid-tick is dropped
	status := make(map[string]any, 40)
	for i := 0; i < 40; i++ {
		status[fmt.Sprintf("field%02d", i)] = float64(i)
	}
	api := &cloudapi.Mock{
		ChargePoints: []types.ChargePoint{
			chargePoint(t, `{"id":"CP1","connectors":[{"connectorId":1}]}`),
		},
		StatusByID: map[string]map[string]any{"CP1": status},
	}
	st := statestore.NewMemory()
	defer st.Close()
	b := New(api, st, testConfig())

	// issue a reboot from inside the sync cycle: subscribers run
	// synchronously on the mirror's writes, so firing on a late
	// acknowledged write lands the command mid-tick
	ctx, cancel := context.WithCancel(context.Background())
	var acked int
	issued := false
	st.Subscribe(func(ch statestore.Change) {
		if !ch.Ack {
			return
		}
		acked++
		if acked == 38 && !issued {
			issued = true
			assert.NoError(t, st.SetState(ctx, "chargebridge.CP1.Control.Reboot", true, false))
		}
	})

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(api.RebootedChargePoints()) == 1
	}, 2*time.Second, 10*time.Millisecond, "mid-tick command must still be dispatched")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestBridgeRun(t *testing.T) {
	api := &cloudapi.Mock{
		ChargePoints: []types.ChargePoint{
			chargePoint(t, `{"id":"CP1","connectors":[{"connectorId":1}]}`),
		},
		StatusByID:   map[string]map[string]any{"CP1": {"connected": true}},
		SettingsByID: map[string]map[string]any{"CP1": {"firmwareVersion": "1.2.3"}},
	}
	st := statestore.NewMemory()
	defer st.Close()
	b := New(api, st, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// wait for the initial sync to land
	require.Eventually(t, func() bool {
		_, written, err := st.GetState(ctx, "chargebridge.CP1.status.connected")
		return err == nil && written
	}, 2*time.Second, 10*time.Millisecond)

	// a user write through the store reaches the dispatcher
	require.NoError(t, st.SetState(ctx, "chargebridge.CP1.Control.Reboot", true, false))
	require.Eventually(t, func() bool {
		return len(api.RebootedChargePoints()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
