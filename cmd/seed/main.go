package main

import (
	"context"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/chargebridge/chargebridge/pkg/bridge"
	"github.com/chargebridge/chargebridge/pkg/log"
	"github.com/chargebridge/chargebridge/pkg/mirror"
	"github.com/chargebridge/chargebridge/pkg/statestore"
)

// seed fills the state store with a demo charge point so the HTTP API can be
// exercised without cloud credentials. Intended for the firestore emulator.
func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	st := statestore.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding demo charge point")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	m := mirror.New(st)

	const cpID = "DEMO1"
	prefix := bridge.Namespace + "." + cpID

	attrs := map[string]any{
		"name":            "Demo Garage",
		"model":           "Halo",
		"firmwareVersion": "1.7.2",
	}
	if err := m.Mirror(ctx, prefix, attrs, false); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed attributes", "error", err)
		os.Exit(1)
	}

	status := map[string]any{
		"connected":           true,
		"totalConsumptionKwh": 100 + rng.Float64()*50,
	}
	if err := m.Mirror(ctx, prefix+".status", status, false); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed status", "error", err)
		os.Exit(1)
	}

	for _, cid := range []string{"1", "2"} {
		settings := map[string]any{
			"maxCurrent":  16.0,
			"rfidLock":    false,
			"cableLock":   false,
			"ledStrength": 100.0,
		}
		if err := m.Mirror(ctx, prefix+"."+cid+".settings", settings, true); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed connector settings", "connectorID", cid, "error", err)
			os.Exit(1)
		}

		for name, id := range map[string]string{
			"RemoteStart " + cid: prefix + ".Control.RemoteStart_" + cid,
			"RemoteStop " + cid:  prefix + ".Control.RemoteStop_" + cid,
		} {
			meta := statestore.ObjectMeta{Name: name, Kind: statestore.KindBoolean, Writable: true}
			if err := st.EnsureObject(ctx, id, meta); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to seed control", "id", id, "error", err)
				os.Exit(1)
			}
		}
	}
	rebootMeta := statestore.ObjectMeta{Name: "Reboot", Kind: statestore.KindBoolean, Writable: true}
	if err := st.EnsureObject(ctx, prefix+".Control.Reboot", rebootMeta); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed control", "error", err)
		os.Exit(1)
	}

	if err := st.Close(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to close state store", "error", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeded demo charge point", "chargePointID", cpID)
}
