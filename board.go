package swboard

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/swboard/drivers"
	"github.com/hubertat/swboard/errcode"
	"github.com/hubertat/swboard/mqtt"
	"github.com/hubertat/swboard/radio"
	"github.com/hubertat/swboard/storage"
	"github.com/hubertat/swboard/task"
	"github.com/hubertat/swboard/telemetry"
)

const defaultHttpAddr = ":8080"
const defaultStatusTitle = "swboard"
const ledChipSelect = 1

// P12..P15 are outputs, P0..P11 inputs.
const expanderOutputs uint16 = 0b1111_0000_0000_0000

// Hardware is what a Board is assembled from. Led may be left nil, the
// ws2812 build then opens the strip on the arbiter itself.
type Hardware struct {
	Buses       drivers.BusOpener
	Expander    func(i2c *drivers.I2CHandle) (drivers.Expander, error)
	Wifi        radio.WifiDriver
	Gatt        radio.GattStack
	Temperature drivers.TemperatureSource
	Led         drivers.LedStrip
	NVS         storage.NVS
	Volume      storage.Volume
}

// Board is the single board assembly. Exported fields are its JSON
// configuration; durations are set by the command line.
type Board struct {
	Name  string
	Debug bool

	Ssid     string
	Password string

	DisplayChipSelect uint8
	SplashText        []string
	RequireStorage    bool

	HttpAddr string

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	MqttBroker    string
	MqttTopic     string
	MqttExitTopic string

	InfluxHost   string
	InfluxOrg    string
	InfluxBucket string
	InfluxToken  string

	TickPeriod   time.Duration `json:"-"`
	NotifyPeriod time.Duration `json:"-"`
	ExportPeriod time.Duration `json:"-"`

	hw                Hardware
	mode              radio.Mode
	scanBeforeConnect bool

	telemetry *telemetry.Telemetry
	arbiter   *drivers.BusArbiter
	i2c       *drivers.I2CHandle
	pins      *drivers.PinSource
	display   *drivers.Display
	led       drivers.LedStrip
	mount     *storage.Mount
	modem     *radio.Modem
	wifi      *radio.ConnectivityManager
	gatt      *radio.Server

	mqttClient *mqtt.MqttClient
	influx     *telemetry.InfluxSink
	httpServer *http.Server
}

// Init brings the board up in order: buses, expander, display, led, storage,
// then the modem in the mode selected at build time. Any error but a
// non-required storage mount is fatal.
func (b *Board) Init(ctx context.Context, hw Hardware) (err error) {
	if b.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if b.mode == radio.Unowned {
		b.mode = modemMode
		b.scanBeforeConnect = scanBeforeConnect
	}
	b.hw = hw
	b.telemetry = telemetry.New()

	b.arbiter = drivers.NewBusArbiter(hw.Buses)

	b.i2c, err = b.arbiter.AcquireI2C()
	if err != nil {
		return errors.Wrap(err, "failed to acquire i2c bus")
	}
	exp, err := hw.Expander(b.i2c)
	if err != nil {
		return errcode.New(errcode.DriverInitFailure, "open expander", err)
	}
	b.pins = drivers.NewPinSource(b.i2c.String(), exp)
	err = b.pins.Configure(expanderOutputs)
	if err != nil {
		return errors.Wrap(err, "failed to configure expander")
	}

	displayCfg := drivers.DefaultDisplayConfig()
	displayCfg.ChipSelect = b.DisplayChipSelect
	b.display, err = drivers.InitDisplay(b.arbiter, b.pins, displayCfg, drivers.SplashImage(b.splashText()...))
	if err != nil {
		return err
	}

	b.led = hw.Led
	if b.led == nil {
		b.led, err = openLed(b.arbiter)
		if err != nil {
			return errors.Wrap(err, "failed to open led strip")
		}
	}

	err = b.initStorage()
	if err != nil {
		return err
	}

	b.modem = radio.NewModem()
	switch b.mode {
	case radio.ShortRangeMode:
		err = b.startShortRange(ctx)
	default:
		err = b.startWirelessLink(ctx)
	}
	if err != nil {
		return err
	}

	log.Info("board ready", "name", b.name(), "modem", b.modem.Mode(), "storage", b.FSMounted())
	return nil
}

func (b *Board) name() string {
	if len(b.Name) > 0 {
		return b.Name
	}
	return defaultStatusTitle
}

func (b *Board) splashText() []string {
	if len(b.SplashText) > 0 {
		return b.SplashText
	}
	return []string{b.name(), "temp on :8080/temp"}
}

func (b *Board) initStorage() error {
	if b.hw.NVS == nil || b.hw.Volume == nil {
		if b.RequireStorage {
			return errcode.New(errcode.MountFailure, "storage", errors.New("no volume configured"))
		}
		log.Warn("no storage configured")
		return nil
	}

	b.mount = storage.NewMount(storage.DefaultMountConfig(), b.hw.NVS, b.hw.Volume)
	err := b.mount.Init()
	if err != nil {
		if b.RequireStorage {
			return err
		}
		log.Error("storage not mounted, continuing without it", "err", err)
		return nil
	}

	err = b.mount.SelfTest()
	if err != nil {
		log.Error("storage self-test failed", "err", err)
	}
	return nil
}

func (b *Board) startWirelessLink(ctx context.Context) error {
	link, err := b.modem.TakeWirelessLink(b.hw.Wifi)
	if err != nil {
		return err
	}
	b.wifi = radio.NewConnectivityManager(link)
	b.wifi.ScanBeforeConnect = b.scanBeforeConnect

	err = b.wifi.Connect(ctx, b.WifiSSID(), b.WifiPassword())
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", b.WifiSSID())
	}
	return nil
}

func (b *Board) startShortRange(ctx context.Context) error {
	sr, err := b.modem.TakeShortRangeRadio(b.hw.Gatt)
	if err != nil {
		return err
	}
	b.gatt = radio.NewServer(sr, b.telemetry)
	if b.NotifyPeriod > 0 {
		b.gatt.NotifyPeriod = b.NotifyPeriod
	}

	err = b.gatt.Start(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to start gatt server")
	}
	return nil
}

// Run starts the foreground loop, the status responder and the optional
// exporters and HomeKit bridge, and blocks until the foreground loop ends.
func (b *Board) Run(ctx context.Context, firmwareVersion string) error {
	if b.telemetry == nil {
		return errors.Wrap(errcode.ConfigRejected, "board not initialized")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fg := newForegroundLoop(b.hw.Temperature, b.led, b.telemetry)
	fgDone := task.Go("foreground", func() error { return fg.run(ctx, b.TickPeriod) })

	err := b.startStatus(ctx)
	if err != nil {
		return err
	}

	exporter := b.exporter(ctx)
	if exporter != nil {
		task.Go("exporter", func() error { return exporter.Run(ctx) })
	}

	if len(b.HkPin) == 8 {
		task.Go("homekit", func() error { return b.StartHomeKit(ctx, firmwareVersion) })
	} else {
		log.Debug("HomeKit not configured, disabled")
	}

	select {
	case <-fgDone:
	case <-ctx.Done():
		<-fgDone
	}
	return b.stopStatus()
}

// exporter returns nil when no sink is configured.
func (b *Board) exporter(ctx context.Context) *telemetry.Exporter {
	sinks := []telemetry.Sink{}

	if len(b.InfluxHost) > 0 {
		b.influx = &telemetry.InfluxSink{
			Host:         b.InfluxHost,
			Organization: b.InfluxOrg,
			Bucket:       b.InfluxBucket,
			Measurement:  "board",
			Token:        b.InfluxToken,
			Tags:         map[string]string{"board": b.name()},
		}
		sinks = append(sinks, b.influx)
	}

	if len(b.MqttBroker) > 0 {
		err := b.InitMqtt(ctx)
		if err != nil {
			log.Error("mqtt disabled", "err", err)
		} else {
			sinks = append(sinks, &telemetry.MqttSink{Topic: b.mqttTopic(), Publisher: b.mqttClient})
		}
	}

	if len(sinks) == 0 {
		return nil
	}
	ex := telemetry.NewExporter(b.telemetry, sinks...)
	if b.ExportPeriod > 0 {
		ex.Period = b.ExportPeriod
	}
	return ex
}

func (b *Board) mqttTopic() string {
	if len(b.MqttTopic) > 0 {
		return b.MqttTopic
	}
	return b.name() + "/telemetry"
}

func (b *Board) InitMqtt(ctx context.Context) (err error) {
	if len(b.MqttBroker) == 0 {
		return errors.New("mqtt broker not set")
	}

	mc, err := mqtt.NewMqttClient(b.MqttBroker, b.name())
	if err != nil {
		return errors.Wrap(err, "failed to create mqtt client")
	}

	handlers := []mqtt.Handler{}
	if len(b.MqttExitTopic) > 0 {
		handlers = append(handlers, &telemetry.ExitCommand{Topic: b.MqttExitTopic, Telemetry: b.telemetry})
	}

	err = mc.Connect(ctx, handlers)
	if err != nil {
		return errors.Wrap(err, "failed to connect to mqtt broker")
	}
	b.mqttClient = mc
	return nil
}

// WifiConnect drops the current association and connects again. Empty
// credentials fall back to the configured ones. Rejected credentials leave
// the current link alone.
func (b *Board) WifiConnect(ctx context.Context, ssid, password string) error {
	if b.wifi == nil {
		return errors.Wrap(errcode.ConfigRejected, "modem not in wireless link mode")
	}
	if len(ssid) == 0 {
		ssid, password = b.WifiSSID(), b.WifiPassword()
	}
	err := radio.ValidateCredentials(ssid, password)
	if err != nil {
		return err
	}

	err = b.wifi.Reconfigure()
	if err != nil {
		return err
	}
	return b.wifi.Connect(ctx, ssid, password)
}

func (b *Board) WifiSSID() string {
	if len(b.Ssid) > 0 {
		return b.Ssid
	}
	return radio.DefaultSSID
}

func (b *Board) WifiPassword() string {
	if len(b.Ssid) > 0 {
		return b.Password
	}
	return radio.DefaultPassword
}

func (b *Board) FSMounted() bool {
	return b.mount != nil && b.mount.Mounted()
}

func (b *Board) Telemetry() *telemetry.Telemetry { return b.telemetry }

// Wifi is nil unless the modem is in wireless link mode.
func (b *Board) Wifi() *radio.ConnectivityManager { return b.wifi }

// Gatt is nil unless the modem is in short-range mode.
func (b *Board) Gatt() *radio.Server { return b.gatt }

func (b *Board) Mount() *storage.Mount { return b.mount }

// Close tears everything down in reverse order and returns the first error.
func (b *Board) Close() (err error) {
	keep := func(closeErr error, what string) {
		if closeErr != nil {
			log.Warn("close failed", "what", what, "err", closeErr)
			if err == nil {
				err = errors.Wrapf(closeErr, "failed to close %s", what)
			}
		}
	}

	if b.telemetry != nil {
		b.telemetry.SetExit()
	}
	if b.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		keep(b.mqttClient.Disconnect(ctx), "mqtt")
		cancel()
	}
	if b.influx != nil {
		b.influx.Close()
	}
	if b.modem != nil {
		keep(b.modem.Teardown(), "modem")
	}
	if b.mount != nil {
		keep(b.mount.Close(), "storage")
	}
	if b.display != nil {
		b.display.Close()
	}
	if b.i2c != nil {
		b.i2c.Release()
	}
	if b.arbiter != nil {
		keep(b.arbiter.Close(), "buses")
	}
	return
}
