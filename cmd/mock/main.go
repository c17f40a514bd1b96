package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hubertat/swboard"
	"github.com/hubertat/swboard/drivers"
	"github.com/hubertat/swboard/radio"
	"github.com/hubertat/swboard/storage"
)

var (
	Version string
	Build   string

	httpAddr = flag.String("http", ":8080", "status responder address")
	hkPin    = flag.String("hk-pin", "", "HomeKit pin, bridge disabled when empty")
	broker   = flag.String("mqtt", "", "mqtt broker url, exporter disabled when empty")
	debug    = flag.Bool("debug", false, "debug logging")
)

func main() {
	flag.Parse()

	log.Info("swboard started", "version", Version)
	log.Info("mock instance for testing purposes, every peripheral is simulated")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	temp := drivers.NewMockTemperature(24.5)
	stack := radio.NewMockStack()
	stack.Nearby = []radio.ScanResult{{Address: "c0:ff:ee:00:00:01", Name: "mock-central", RSSI: -60}}

	hw := swboard.Hardware{
		Buses: drivers.NewMockBuses(),
		Expander: func(i2c *drivers.I2CHandle) (drivers.Expander, error) {
			return drivers.NewXL9555(i2c, false, false, false), nil
		},
		Wifi:        radio.NewMockWifi(),
		Gatt:        stack,
		Temperature: temp,
		Led:         &drivers.MockLed{},
		NVS:         &storage.MockNVS{},
		Volume:      storage.NewMemVolume(),
	}

	b := &swboard.Board{
		Name:          "swboard-mock",
		Debug:         *debug,
		HttpAddr:      *httpAddr,
		HkPin:         *hkPin,
		HkDirectory:   "./homekit-mock",
		MqttBroker:    *broker,
		MqttExitTopic: "swboard-mock/exit",
		TickPeriod:    swboard.DefaultTickPeriod,
	}

	log.Info("will init board...")
	err := b.Init(ctx, hw)
	defer b.Close()
	if err != nil {
		log.Error("board init failed", "err", err)
		return
	}

	go drift(ctx, temp)
	if srv := b.Gatt(); srv != nil {
		stack.ConnectPeer("mock-central")
		found, err := srv.Scan(ctx, 2*time.Second)
		if err != nil {
			log.Warn("scan failed", "err", err)
		}
		for _, r := range found {
			log.Info("nearby", "address", r.Address, "name", r.Name, "rssi", r.RSSI)
		}
	}

	err = b.Run(ctx, Version)
	if err != nil {
		log.Error("board stopped with error", "err", err)
	}
}

// drift moves the simulated temperature around so the status pages change.
func drift(ctx context.Context, temp *drivers.MockTemperature) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	value := float32(24.5)
	step := float32(0.25)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			value += step
			if value > 30 || value < 20 {
				step = -step
			}
			temp.Set(value)
		}
	}
}
