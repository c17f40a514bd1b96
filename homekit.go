package swboard

import (
	"context"
	"fmt"
	"time"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	hklog "github.com/brutella/hap/log"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/swboard/telemetry"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeAuthor = "github.com/hubertat"
const homeKitSyncPeriod = 5 * time.Second

// thermometer mirrors the Telemetry temperature into a HomeKit
// temperature sensor. It reports a fault until the first sync.
type thermometer struct {
	telemetry *telemetry.Telemetry

	hkA           *accessory.Thermometer
	hkStatusFault *characteristic.StatusFault
}

func newThermometer(name string, t *telemetry.Telemetry) *thermometer {
	th := &thermometer{telemetry: t}
	th.hkA = accessory.NewTemperatureSensor(accessory.Info{
		Name:         name + " temperature",
		SerialNumber: fmt.Sprintf("temp_sensor:%s", name),
	})
	th.hkStatusFault = characteristic.NewStatusFault()
	th.hkStatusFault.SetValue(characteristic.StatusFaultGeneralFault)
	th.hkA.TempSensor.AddC(th.hkStatusFault.C)
	return th
}

func (th *thermometer) Sync() {
	th.hkStatusFault.SetValue(characteristic.StatusFaultNoFault)
	th.hkA.TempSensor.CurrentTemperature.SetValue(float64(th.telemetry.Temperature()))
}

func (th *thermometer) run(ctx context.Context) {
	ticker := time.NewTicker(homeKitSyncPeriod)
	defer ticker.Stop()

	for {
		th.Sync()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StartHomeKit serves a bridge with the board thermometer until ctx ends.
func (b *Board) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	bridge := accessory.NewBridge(accessory.Info{
		Name:         b.name(),
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     firmwareVersion,
	})

	th := newThermometer(b.name(), b.telemetry)
	th.hkA.Id = 2

	var store hap.Store
	if len(b.HkDirectory) > 1 {
		store = hap.NewFsStore(b.HkDirectory)
	} else {
		store = hap.NewFsStore(defaultHomeKitDirectory)
	}
	hkServer, err := hap.NewServer(store, bridge.A, th.hkA.A)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = b.HkPin
	if len(b.HkAddress) > 0 {
		hkServer.Addr = b.HkAddress
	}

	if b.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	go th.run(ctx)

	log.Info("HomeKit bridge starting", "name", b.name())
	return hkServer.ListenAndServe(ctx)
}
