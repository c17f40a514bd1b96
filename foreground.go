package swboard

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hubertat/swboard/drivers"
	"github.com/hubertat/swboard/telemetry"
)

const (
	DefaultTickPeriod = 50 * time.Millisecond
	statusEveryTicks  = 100

	hueStep       = 10
	ledSaturation = 255
	ledValue      = 8
)

// foregroundLoop samples the temperature into Telemetry and cycles the led
// hue on every tick.
type foregroundLoop struct {
	temp      drivers.TemperatureSource
	led       drivers.LedStrip
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	hue   uint8
	ticks int
}

func newForegroundLoop(temp drivers.TemperatureSource, led drivers.LedStrip, t *telemetry.Telemetry) *foregroundLoop {
	if led == nil {
		led = drivers.NoLed{}
	}
	return &foregroundLoop{
		temp:      temp,
		led:       led,
		telemetry: t,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "Foreground: ",
			Level:  log.GetLevel(),
		}),
	}
}

// step is one tick. Sensor and led failures are logged; a failed read keeps
// the previous temperature.
func (fl *foregroundLoop) step() {
	if fl.temp != nil {
		celsius, err := fl.temp.Celsius()
		if err != nil {
			fl.logger.Warn("temperature read failed", "err", err)
		} else {
			fl.telemetry.SetTemperature(celsius)
		}
	}

	err := fl.led.WriteColor(drivers.HSV(fl.hue, ledSaturation, ledValue))
	if err != nil {
		fl.logger.Warn("led write failed", "hue", fl.hue, "err", err)
	}
	fl.hue += hueStep

	fl.ticks++
	if fl.ticks%statusEveryTicks == 0 {
		snap := fl.telemetry.Snapshot()
		fl.logger.Info("status", "ticks", fl.ticks, "temperature", snap.Temperature, "hue", fl.hue)
	}
}

func (fl *foregroundLoop) run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if fl.telemetry.Exit() {
				fl.logger.Info("exit requested", "ticks", fl.ticks)
				return nil
			}
			fl.step()
		}
	}
}
