//go:build ws2812

package swboard

import (
	"github.com/hubertat/swboard/drivers"
)

// openLed puts the strip on its own chip-select of the display's SPI bus.
func openLed(arbiter *drivers.BusArbiter) (drivers.LedStrip, error) {
	handle, err := arbiter.AcquireSPI(ledChipSelect, drivers.WS2812ClockHz)
	if err != nil {
		return nil, err
	}
	return drivers.NewWS2812(handle), nil
}
