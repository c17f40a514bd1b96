//go:build !ws2812

package swboard

import "github.com/hubertat/swboard/drivers"

func openLed(arbiter *drivers.BusArbiter) (drivers.LedStrip, error) {
	return drivers.NoLed{}, nil
}
