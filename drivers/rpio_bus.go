package drivers

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// RpioBuses opens the Raspberry Pi SPI0 controller through go-rpio and the
// I2C adapter /dev/i2c-<I2CBusNo> through periph.
type RpioBuses struct {
	I2CBusNo uint8
}

func (rb *RpioBuses) OpenSPI() (SPIBus, error) {
	err := rpio.Open()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open rpio")
	}
	err = rpio.SpiBegin(rpio.Spi0)
	if err != nil {
		rpio.Close()
		return nil, errors.Wrap(err, "failed to begin spi0")
	}
	return &rpioSPI{}, nil
}

func (rb *RpioBuses) OpenI2C() (I2CBus, error) {
	_, err := host.Init()
	if err != nil {
		return nil, errors.Wrap(err, "failed to init periph host")
	}
	bus, err := i2creg.Open(strconv.Itoa(int(rb.I2CBusNo)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open i2c-%d", rb.I2CBusNo)
	}
	return &periphI2C{bus: bus, busNo: rb.I2CBusNo}, nil
}

type rpioSPI struct{}

func (rs *rpioSPI) Select(cs uint8, clockHz uint32) error {
	if cs > 2 {
		return errors.Errorf("spi0 chip-select out of range: %d", cs)
	}
	rpio.SpiChipSelect(cs)
	rpio.SpiSpeed(int(clockHz))
	return nil
}

func (rs *rpioSPI) Tx(w, r []byte) error {
	if len(r) == 0 {
		rpio.SpiTransmit(w...)
		return nil
	}

	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	buf := make([]byte, n)
	copy(buf, w)
	rpio.SpiExchange(buf)
	copy(r, buf)
	return nil
}

func (rs *rpioSPI) Close() error {
	rpio.SpiEnd(rpio.Spi0)
	return rpio.Close()
}

type periphI2C struct {
	bus   i2c.BusCloser
	busNo uint8
}

func (pi *periphI2C) Tx(addr uint16, w, r []byte) error {
	return pi.bus.Tx(addr, w, r)
}

func (pi *periphI2C) BusNo() uint8 { return pi.busNo }
func (pi *periphI2C) Close() error { return pi.bus.Close() }
