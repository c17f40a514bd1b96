package drivers

import (
	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
)

// McpExpander backs a PinSource with an MCP23017 opened through go-mcp23017.
// The driver talks to /dev/i2c-<bus> directly, so the arbiter's handle is used
// for ownership and the bus number only.
type McpExpander struct {
	device *mcp23017.Device
	handle *I2CHandle

	DevNo         uint8
	InvertOutputs bool
}

func OpenMcpExpander(handle *I2CHandle, devNo uint8) (*McpExpander, error) {
	device, err := mcp23017.Open(handle.BusNo(), devNo)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open mcp23017 (bus %d, dev %d)", handle.BusNo(), devNo)
	}

	return &McpExpander{device: device, handle: handle, DevNo: devNo}, nil
}

func (mcp *McpExpander) SetDirections(outputs uint16) (err error) {
	for pin := uint8(0); pin < expanderPinCount; pin++ {
		if outputs&(1<<pin) != 0 {
			err = mcp.device.PinMode(pin, mcp23017.OUTPUT)
		} else {
			err = mcp.device.PinMode(pin, mcp23017.INPUT)
		}
		if err != nil {
			return errors.Wrapf(err, "mcp23017 pin %d mode", pin)
		}
	}

	return
}

func (mcp *McpExpander) WritePin(pin uint8, level bool) error {
	if mcp.InvertOutputs {
		level = !level
	}

	return mcp.device.DigitalWrite(pin, mcp23017.PinLevel(level))
}

func (mcp *McpExpander) ReadPin(pin uint8) (level bool, err error) {
	rawLevel, err := mcp.device.DigitalRead(pin)
	if err != nil {
		return
	}

	level = bool(rawLevel)
	if mcp.InvertOutputs {
		level = !level
	}
	return
}

func (mcp *McpExpander) Close() error {
	mcp.handle.Release()
	return mcp.device.Close()
}
