// Package bridge runs the sync loop between the charge-point cloud API and
// the local state store, and dispatches user writes back to the cloud.
package bridge

import (
	"context"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/chargebridge/chargebridge/pkg/cloudapi"
	"github.com/chargebridge/chargebridge/pkg/log"
	"github.com/chargebridge/chargebridge/pkg/mirror"
	"github.com/chargebridge/chargebridge/pkg/statestore"
	"github.com/chargebridge/chargebridge/pkg/types"
)

// Namespace is the root segment of every state ID owned by the bridge.
const Namespace = "chargebridge"

// changeBuffer bounds how many pending state changes we hold before dropping.
const changeBuffer = 32

// Bridge owns the session lifecycle, the periodic sync, and command dispatch.
// Everything runs on the single goroutine inside Run, so no locking guards
// the charge point list or the session.
type Bridge struct {
	api    cloudapi.API
	store  statestore.Store
	mirror *mirror.Mirror
	cfg    types.Config

	chargePoints []types.ChargePoint

	tickCh   chan struct{}
	changeCh chan statestore.Change
}

// New returns a Bridge using the given API client and store.
func New(api cloudapi.API, store statestore.Store, cfg types.Config) *Bridge {
	return &Bridge{
		api:      api,
		store:    store,
		mirror:   mirror.New(store),
		cfg:      cfg,
		tickCh:   make(chan struct{}, 1),
		changeCh: make(chan statestore.Change, changeBuffer),
	}
}

// Configured returns a Bridge configured via lflag.
func Configured(api cloudapi.API, store statestore.Store) *Bridge {
	email := lflag.RequiredString("email", "Email address for the cloud account")
	password := lflag.RequiredString("password", "Password for the cloud account")
	interval := lflag.Duration("interval", time.Minute, "Interval between sync cycles (floored to 15s)")

	b := New(api, store, types.Config{})
	lflag.Do(func() {
		b.cfg = types.Config{
			Email:    *email,
			Password: *password,
			Interval: *interval,
		}
	})
	return b
}

func stateID(segments ...string) string {
	id := Namespace
	for _, s := range segments {
		id += "." + s
	}
	return id
}

// Login authenticates with the cloud and, on success, discovers the owned
// charge points. A failed login zeroes the session so later ticks become
// no-ops. A failed discovery is logged but does not invalidate the login.
func (b *Bridge) Login(ctx context.Context) bool {
	token, err := b.api.Login(ctx, b.cfg.Email, b.cfg.Password)
	if err != nil {
		log.Ctx(ctx).Error("login failed", "error", err)
		b.api.SetSession(cloudapi.Session{})
		return false
	}
	b.api.SetSession(cloudapi.Session{Token: token, Authenticated: true})
	log.Ctx(ctx).Info("logged in", "email", b.cfg.Email)

	if err := b.discover(ctx); err != nil {
		log.Ctx(ctx).Error("charge point discovery failed", "error", err)
	}
	return true
}

// discover refreshes the known charge point list, mirrors each charge
// point's attributes read-only, and provisions the writable control objects
// users toggle to issue commands.
func (b *Bridge) discover(ctx context.Context) error {
	cps, err := b.api.OwnedChargePoints(ctx)
	if err != nil {
		return err
	}
	b.chargePoints = cps
	log.Ctx(ctx).Info("discovered charge points", "count", len(cps))

	for _, cp := range cps {
		if err := b.mirror.Mirror(ctx, stateID(cp.ID), cp.Attributes, false); err != nil {
			log.Ctx(ctx).Error("failed to mirror charge point attributes", "chargePointID", cp.ID, "error", err)
		}
		b.provisionControls(ctx, cp)
	}
	return nil
}

func (b *Bridge) provisionControls(ctx context.Context, cp types.ChargePoint) {
	ensure := func(id, name string) {
		meta := statestore.ObjectMeta{Name: name, Kind: statestore.KindBoolean, Writable: true}
		if err := b.store.EnsureObject(ctx, id, meta); err != nil {
			log.Ctx(ctx).Error("failed to provision control", "id", id, "error", err)
		}
	}
	ensure(stateID(cp.ID, "Control", "Reboot"), "Reboot")
	for _, cid := range cp.ConnectorIDs() {
		ensure(stateID(cp.ID, "Control", "RemoteStart_"+cid), "RemoteStart "+cid)
		ensure(stateID(cp.ID, "Control", "RemoteStop_"+cid), "RemoteStop "+cid)
	}
}

// Tick runs one sync cycle: status and settings for every known charge
// point, then per-connector settings. A failing fetch is logged and the
// cycle moves on to the next entity. When unauthenticated, Tick is a no-op.
func (b *Bridge) Tick(ctx context.Context) {
	if !b.api.Session().Authenticated {
		log.Ctx(ctx).Warn("skipping sync, not authenticated")
		return
	}
	start := time.Now()
	for _, cp := range b.chargePoints {
		if status, err := b.api.Status(ctx, cp.ID); err != nil {
			log.Ctx(ctx).Error("failed to fetch status", "chargePointID", cp.ID, "error", err)
		} else if err := b.mirror.Mirror(ctx, stateID(cp.ID, "status"), status, false); err != nil {
			log.Ctx(ctx).Error("failed to mirror status", "chargePointID", cp.ID, "error", err)
		}

		if settings, err := b.api.Settings(ctx, cp.ID); err != nil {
			log.Ctx(ctx).Error("failed to fetch settings", "chargePointID", cp.ID, "error", err)
		} else if err := b.mirror.Mirror(ctx, stateID(cp.ID, "settings"), settings, false); err != nil {
			log.Ctx(ctx).Error("failed to mirror settings", "chargePointID", cp.ID, "error", err)
		}

		for _, cid := range cp.ConnectorIDs() {
			settings, err := b.api.ConnectorSettings(ctx, cp.ID, cid)
			if err != nil {
				log.Ctx(ctx).Error("failed to fetch connector settings",
					"chargePointID", cp.ID, "connectorID", cid, "error", err)
				continue
			}
			if err := b.mirror.Mirror(ctx, stateID(cp.ID, cid, "settings"), settings, true); err != nil {
				log.Ctx(ctx).Error("failed to mirror connector settings",
					"chargePointID", cp.ID, "connectorID", cid, "error", err)
			}
		}
	}
	log.Ctx(ctx).Debug("sync cycle finished",
		"chargePoints", len(b.chargePoints), "took", time.Since(start))
}

// HandleChange dispatches a single state change from the store. Acknowledged
// changes reflect what we wrote ourselves and are ignored; deletions are
// logged only. Setting updates write their value back acknowledged once the
// cloud accepted them.
func (b *Bridge) HandleChange(ctx context.Context, ch statestore.Change) {
	if ch.Deleted {
		log.Ctx(ctx).Debug("ignoring deleted state", "id", ch.ID)
		return
	}
	if ch.Ack {
		return
	}
	cmd := DecodeCommand(ch.ID)
	if cmd.Kind != CommandInvalid && !b.knownChargePoint(cmd.ChargePointID) {
		log.Ctx(ctx).Warn("command for unknown charge point", "id", ch.ID, "chargePointID", cmd.ChargePointID)
		return
	}
	switch cmd.Kind {
	case CommandReboot:
		if err := b.api.Reboot(ctx, cmd.ChargePointID); err != nil {
			log.Ctx(ctx).Error("reboot failed", "chargePointID", cmd.ChargePointID, "error", err)
		}
	case CommandRemoteStart:
		if !b.knownConnector(cmd.ChargePointID, cmd.ConnectorID) {
			log.Ctx(ctx).Warn("remote start for unknown connector",
				"chargePointID", cmd.ChargePointID, "connectorID", cmd.ConnectorID)
			return
		}
		if err := b.api.RemoteStart(ctx, cmd.ChargePointID, cmd.ConnectorID); err != nil {
			log.Ctx(ctx).Error("remote start failed",
				"chargePointID", cmd.ChargePointID, "connectorID", cmd.ConnectorID, "error", err)
		}
	case CommandRemoteStop:
		if !b.knownConnector(cmd.ChargePointID, cmd.ConnectorID) {
			log.Ctx(ctx).Warn("remote stop for unknown connector",
				"chargePointID", cmd.ChargePointID, "connectorID", cmd.ConnectorID)
			return
		}
		if err := b.api.RemoteStop(ctx, cmd.ChargePointID, cmd.ConnectorID); err != nil {
			log.Ctx(ctx).Error("remote stop failed",
				"chargePointID", cmd.ChargePointID, "connectorID", cmd.ConnectorID, "error", err)
		}
	case CommandSettingUpdate:
		update := map[string]any{cmd.SettingKey: ch.Value}
		if err := b.api.UpdateConnectorSettings(ctx, cmd.ChargePointID, cmd.ConnectorID, update); err != nil {
			log.Ctx(ctx).Error("setting update failed",
				"chargePointID", cmd.ChargePointID, "connectorID", cmd.ConnectorID,
				"key", cmd.SettingKey, "error", err)
			return
		}
		// confirm the write so the change is not re-dispatched
		if err := b.store.SetState(ctx, ch.ID, ch.Value, true); err != nil {
			log.Ctx(ctx).Error("failed to acknowledge setting", "id", ch.ID, "error", err)
		}
	default:
		log.Ctx(ctx).Warn("ignoring malformed command", "id", ch.ID, "reason", cmd.Reason)
	}
}

func (b *Bridge) knownChargePoint(id string) bool {
	for _, cp := range b.chargePoints {
		if cp.ID == id {
			return true
		}
	}
	return false
}

func (b *Bridge) knownConnector(cpID, connectorID string) bool {
	for _, cp := range b.chargePoints {
		if cp.ID != cpID {
			continue
		}
		for _, cid := range cp.ConnectorIDs() {
			if cid == connectorID {
				return true
			}
		}
	}
	return false
}

// RequestTick asks the run loop to sync as soon as it is free. If a sync is
// already pending the request is skipped and logged rather than queued.
func (b *Bridge) RequestTick(ctx context.Context) {
	select {
	case b.tickCh <- struct{}{}:
	default:
		log.Ctx(ctx).Info("sync already pending, skipping")
	}
}

// Run logs in, performs an initial sync, and then processes ticks and state
// changes on a single goroutine until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	b.store.Subscribe(func(ch statestore.Change) {
		// acknowledged changes are our own mirror writes; dropping them here
		// keeps a sync cycle from flooding the buffer and starving out a
		// genuine user command arriving mid-tick
		if ch.Ack {
			return
		}
		select {
		case b.changeCh <- ch:
		default:
			log.Ctx(ctx).Warn("change buffer full, dropping state change", "id", ch.ID)
		}
	})

	b.Login(ctx)
	b.RequestTick(ctx)

	ticker := time.NewTicker(b.cfg.SyncInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.RequestTick(ctx)
		case <-b.tickCh:
			b.Tick(ctx)
		case ch := <-b.changeCh:
			b.HandleChange(ctx, ch)
		}
	}
}
