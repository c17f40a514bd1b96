package drivers

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/hubertat/swboard/errcode"
	"github.com/pkg/errors"
)

// TemperatureSource yields the current reading in degrees Celsius.
type TemperatureSource interface {
	Celsius() (float32, error)
}

const (
	thermalSystemPath string = "/sys/class/thermal"
	wireSystemPath    string = "/sys/bus/w1/devices"
	wireSensorPrefix  string = "28-"
)

// SysfsTemperature reads a kernel file holding a milli-Celsius integer, like
// thermal_zone*/temp or a 1-wire sensor's temperature node.
type SysfsTemperature struct {
	Path string

	CheckBounds        bool
	BoundMinimumMillis int
	BoundMaximumMillis int
}

// ThermalZone is the on-die sensor of the given zone.
func ThermalZone(zone int) *SysfsTemperature {
	return &SysfsTemperature{Path: path.Join(thermalSystemPath, "thermal_zone"+strconv.Itoa(zone), "temp")}
}

// WireSensor is a DS18B20 on the 1-wire bus, addressed by its 48-bit id.
func WireSensor(id string) (*SysfsTemperature, error) {
	stringId := strings.ToLower(id)
	base := 10
	if strings.HasPrefix(stringId, "0x") {
		stringId = strings.TrimPrefix(stringId, "0x")
		base = 16
	}
	numId, err := strconv.ParseInt(stringId, base, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to convert string id: %s to int", id)
	}

	folderName := fmt.Sprintf("%s%012x", wireSensorPrefix, numId)
	return &SysfsTemperature{Path: path.Join(wireSystemPath, folderName, "temperature")}, nil
}

func (st *SysfsTemperature) Celsius() (float32, error) {
	raw, err := os.ReadFile(st.Path)
	if err != nil {
		return 0, errcode.New(errcode.IoFailure, "read "+st.Path, err)
	}

	text := strings.TrimSpace(string(raw))
	milli, err := strconv.ParseInt(text, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "failed converting temperature string: %s to milli °C int value (%s)", text, st.Path)
	}
	if st.CheckBounds && (int(milli) < st.BoundMinimumMillis || int(milli) > st.BoundMaximumMillis) {
		return 0, errors.Errorf("temperature out of bounds: %d m°C (%s)", milli, st.Path)
	}
	return float32(milli) / 1000, nil
}

// MockTemperature returns a settable value.
type MockTemperature struct {
	mu    sync.Mutex
	value float32
	err   error
	reads int
}

func NewMockTemperature(value float32) *MockTemperature {
	return &MockTemperature{value: value}
}

func (mt *MockTemperature) Set(value float32) {
	mt.mu.Lock()
	mt.value = value
	mt.mu.Unlock()
}

// Fail makes every following read return err until it is called with nil.
func (mt *MockTemperature) Fail(err error) {
	mt.mu.Lock()
	mt.err = err
	mt.mu.Unlock()
}

func (mt *MockTemperature) Celsius() (float32, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.reads++
	if mt.err != nil {
		return 0, mt.err
	}
	return mt.value, nil
}

func (mt *MockTemperature) Reads() int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.reads
}
