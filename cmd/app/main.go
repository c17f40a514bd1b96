package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"

	"github.com/hubertat/swboard"
	"github.com/hubertat/swboard/drivers"
	"github.com/hubertat/swboard/radio"
	"github.com/hubertat/swboard/storage"
	"github.com/hubertat/swboard/storage/fatvol"
)

const defaultTickInterval = "50ms"
const defaultNotifyInterval = "1s"
const defaultExportInterval = "10s"
const defaultStorageSize = 1 << 20

var (
	Version string
	Build   string

	config         = flag.String("config", "config.json", "path of the configuration file")
	flagInstall    = flag.Bool("install", false, "Install service in os")
	tickInterval   = flag.String("tick", defaultTickInterval, "foreground tick interval (time.Duration)")
	notifyInterval = flag.String("notify", defaultNotifyInterval, "gatt notify interval (time.Duration)")
	exportInterval = flag.String("export", defaultExportInterval, "telemetry export interval (time.Duration)")

	swbService = servicemaker.ServiceMaker{
		User:               "swboard",
		UserGroups:         []string{"gpio", "i2c", "spi", "bluetooth"},
		ServicePath:        "/etc/systemd/system/swboard.service",
		ServiceDescription: "SwBoard service: display, storage, wifi or ble gatt server on a small controller board. github.com/hubertat/swboard",
		ExecDir:            "/srv/swboard",
		ExecName:           "swboard",
	}
)

// appConfig is the board config plus the wiring of this particular host.
type appConfig struct {
	swboard.Board

	I2CBus        uint8
	Expander      string
	ExpanderDevNo uint8
	WifiInterface string
	ThermalZone   int
	WireSensorId  string
	NvsPath       string
	StorageImage  string
	StorageSize   int64
}

func (ac *appConfig) hardware() (hw swboard.Hardware, err error) {
	hw.Buses = &drivers.RpioBuses{I2CBusNo: ac.I2CBus}

	switch ac.Expander {
	case "mcp23017":
		hw.Expander = func(i2c *drivers.I2CHandle) (drivers.Expander, error) {
			return drivers.OpenMcpExpander(i2c, ac.ExpanderDevNo)
		}
	default:
		hw.Expander = func(i2c *drivers.I2CHandle) (drivers.Expander, error) {
			return drivers.NewXL9555(i2c, false, false, false), nil
		}
	}

	hw.Wifi = radio.NewNmcli(ac.WifiInterface)
	hw.Gatt = newGattStack()

	if len(ac.WireSensorId) > 0 {
		hw.Temperature, err = drivers.WireSensor(ac.WireSensorId)
		if err != nil {
			return
		}
	} else {
		hw.Temperature = drivers.ThermalZone(ac.ThermalZone)
	}

	dir := path.Dir(*config)
	nvsPath := ac.NvsPath
	if len(nvsPath) == 0 {
		nvsPath = path.Join(dir, "nvs.json")
	}
	hw.NVS = &storage.FileNVS{Path: nvsPath}

	image := ac.StorageImage
	if len(image) == 0 {
		image = path.Join(dir, "storage.img")
	}
	size := ac.StorageSize
	if size == 0 {
		size = defaultStorageSize
	}
	hw.Volume, err = fatvol.Open(image, size, storage.DefaultMountConfig().AllocationUnit)
	return
}

func main() {
	log.Info("swboard started", "version", Version, "build", Build)
	flag.Parse()

	if *flagInstall {
		err := swbService.InstallService()
		if err != nil {
			panic(err)
		} else {
			log.Info("service installed!")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ac := &appConfig{}
	configFile, err := os.Open(*config)
	if err == nil {
		cBuff, err := io.ReadAll(configFile)
		configFile.Close()
		if err != nil {
			log.Fatal("failed reading config file", "err", err)
		}

		err = json.Unmarshal(cBuff, ac)
		if err != nil {
			log.Fatal("failed unmarshalling json config", "err", err)
		}
	} else {
		log.Fatal("can't find/open config file, will terminate", "config", *config, "err", err)
	}

	ac.TickPeriod, err = time.ParseDuration(*tickInterval)
	if err != nil {
		panic(err)
	}
	ac.NotifyPeriod, err = time.ParseDuration(*notifyInterval)
	if err != nil {
		panic(err)
	}
	ac.ExportPeriod, err = time.ParseDuration(*exportInterval)
	if err != nil {
		panic(err)
	}

	hw, err := ac.hardware()
	if err != nil {
		log.Fatal("failed to prepare hardware", "err", err)
	}

	log.Info("will init board...")
	err = ac.Init(ctx, hw)
	defer ac.Close()
	if err != nil {
		log.Error("board init failed", "err", err)
		return
	}

	err = ac.Run(ctx, Version)
	if err != nil {
		log.Error("board stopped with error", "err", err)
	}
}
