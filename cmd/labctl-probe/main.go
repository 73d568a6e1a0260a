// Command labctl-probe is a hardware-free diagnostic CLI: it boots a
// simulated instrument fleet, drives one device through a setpoint
// change, and prints its polled state to stdout — useful for exercising
// the session/driver stack without a running labctl-server or physical
// hardware attached.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/multiverse-labs/labctl/internal/config"
	"github.com/multiverse-labs/labctl/internal/discovery"
	"github.com/multiverse-labs/labctl/internal/session"
	"github.com/multiverse-labs/labctl/internal/sessionmgr"
)

func main() {
	deviceID := flag.String("device", "psu-1", "simulated device id to drive")
	parameter := flag.String("parameter", "voltage", "output parameter to set")
	value := flag.Float64("value", 5.0, "value to command")
	kind := flag.String("kind", "psu", "simulated device kind: psu or load")
	manufacturer := flag.String("manufacturer", "Acme", "simulated device manufacturer")
	model := flag.String("model", "PS-30", "simulated device model")
	watch := flag.Duration("watch", 2*time.Second, "how long to poll state before exiting")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	discoverer := discovery.NewSimulated([]config.SimulatedDevice{
		{ID: *deviceID, Kind: *kind, Manufacturer: *manufacturer, Model: *model},
	}, nil)
	manager := sessionmgr.New(ctx, discoverer, session.DefaultConfig())
	defer manager.Stop()

	if err := manager.SyncDevices(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "labctl-probe: sync failed: %v\n", err)
		os.Exit(1)
	}

	if err := manager.SetValue(ctx, *deviceID, *parameter, *value, true); err != nil {
		fmt.Fprintf(os.Stderr, "labctl-probe: set %s=%v on %s failed: %v\n", *parameter, *value, *deviceID, err)
		os.Exit(1)
	}
	fmt.Printf("labctl-probe: commanded %s.%s = %v\n", *deviceID, *parameter, *value)

	deadline := time.After(*watch)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
			state, err := manager.GetState(*deviceID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "labctl-probe: get state: %v\n", err)
				continue
			}
			data, _ := json.Marshal(state)
			fmt.Println(string(data))
		}
	}
}
