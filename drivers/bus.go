package drivers

import (
	"fmt"
	"sync"

	"github.com/hubertat/swboard/errcode"
	"github.com/pkg/errors"
	tinydrivers "tinygo.org/x/drivers"
)

// SPIBus is the raw serial-peripheral bus. Select is called before every
// transaction so devices on different chip-selects may run at different clocks.
type SPIBus interface {
	Select(cs uint8, clockHz uint32) error
	Tx(w, r []byte) error
	Close() error
}

// I2CBus is the raw two-wire bus. BusNo identifies the adapter for drivers
// that open the device node on their own (go-mcp23017).
type I2CBus interface {
	Tx(addr uint16, w, r []byte) error
	BusNo() uint8
	Close() error
}

// BusOpener brings up the physical bus drivers. Each method is called at most
// once per arbiter, on first acquisition of that bus.
type BusOpener interface {
	OpenSPI() (SPIBus, error)
	OpenI2C() (I2CBus, error)
}

// BusArbiter owns the shared SPI and I2C buses and hands out handles.
// The SPI bus may carry several handles on distinct chip-selects; the I2C bus
// has a single owner.
type BusArbiter struct {
	opener BusOpener

	mu        sync.Mutex
	spi       SPIBus
	i2c       I2CBus
	spiOwners map[uint8]*SPIHandle
	i2cOwner  *I2CHandle

	// transaction locks, held for the duration of one bus transfer
	spiTx sync.Mutex
	i2cTx sync.Mutex
}

func NewBusArbiter(opener BusOpener) *BusArbiter {
	return &BusArbiter{
		opener:    opener,
		spiOwners: make(map[uint8]*SPIHandle),
	}
}

// AcquireSPI returns a handle for the device on chip-select cs.
func (ba *BusArbiter) AcquireSPI(cs uint8, clockHz uint32) (*SPIHandle, error) {
	ba.mu.Lock()
	defer ba.mu.Unlock()

	if _, taken := ba.spiOwners[cs]; taken {
		return nil, errors.Wrapf(errcode.BusBusy, "spi chip-select %d already acquired", cs)
	}

	if ba.spi == nil {
		bus, err := ba.opener.OpenSPI()
		if err != nil {
			return nil, errcode.New(errcode.DriverInitFailure, "open spi bus", err)
		}
		ba.spi = bus
	}

	h := &SPIHandle{arbiter: ba, cs: cs, clockHz: clockHz}
	ba.spiOwners[cs] = h
	return h, nil
}

// AcquireI2C returns the single I2C handle.
func (ba *BusArbiter) AcquireI2C() (*I2CHandle, error) {
	ba.mu.Lock()
	defer ba.mu.Unlock()

	if ba.i2cOwner != nil {
		return nil, errors.Wrap(errcode.BusBusy, "i2c bus already acquired")
	}

	if ba.i2c == nil {
		bus, err := ba.opener.OpenI2C()
		if err != nil {
			return nil, errcode.New(errcode.DriverInitFailure, "open i2c bus", err)
		}
		ba.i2c = bus
	}

	ba.i2cOwner = &I2CHandle{arbiter: ba, busNo: ba.i2c.BusNo()}
	return ba.i2cOwner, nil
}

func (ba *BusArbiter) releaseSPI(h *SPIHandle) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	if ba.spiOwners[h.cs] == h {
		delete(ba.spiOwners, h.cs)
	}
}

func (ba *BusArbiter) releaseI2C(h *I2CHandle) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	if ba.i2cOwner == h {
		ba.i2cOwner = nil
	}
}

func (ba *BusArbiter) spiTransfer(h *SPIHandle, w, r []byte) error {
	ba.mu.Lock()
	live := ba.spiOwners[h.cs] == h
	bus := ba.spi
	ba.mu.Unlock()
	if !live {
		return errors.Wrapf(errcode.ConfigRejected, "spi handle on chip-select %d was released", h.cs)
	}

	ba.spiTx.Lock()
	defer ba.spiTx.Unlock()

	if err := bus.Select(h.cs, h.clockHz); err != nil {
		return errcode.New(errcode.IoFailure, fmt.Sprintf("spi select cs %d", h.cs), err)
	}
	if err := bus.Tx(w, r); err != nil {
		return errcode.New(errcode.IoFailure, fmt.Sprintf("spi tx cs %d", h.cs), err)
	}
	return nil
}

func (ba *BusArbiter) i2cTransfer(h *I2CHandle, addr uint16, w, r []byte) error {
	ba.mu.Lock()
	live := ba.i2cOwner == h
	bus := ba.i2c
	ba.mu.Unlock()
	if !live {
		return errors.Wrap(errcode.ConfigRejected, "i2c handle was released")
	}

	ba.i2cTx.Lock()
	defer ba.i2cTx.Unlock()

	if err := bus.Tx(addr, w, r); err != nil {
		return errcode.New(errcode.IoFailure, fmt.Sprintf("i2c tx addr 0x%02x", addr), err)
	}
	return nil
}

// Close releases the physical buses. Outstanding handles stop working.
func (ba *BusArbiter) Close() (err error) {
	ba.mu.Lock()
	defer ba.mu.Unlock()

	ba.spiOwners = make(map[uint8]*SPIHandle)
	ba.i2cOwner = nil

	if ba.spi != nil {
		if closeErr := ba.spi.Close(); closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close spi bus")
		}
	}
	if ba.i2c != nil {
		if closeErr := ba.i2c.Close(); closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close i2c bus")
		}
	}
	return
}

var (
	_ tinydrivers.SPI = (*SPIHandle)(nil)
	_ tinydrivers.I2C = (*I2CHandle)(nil)
)

// SPIHandle is one device's view of the shared SPI bus.
type SPIHandle struct {
	arbiter *BusArbiter
	cs      uint8
	clockHz uint32
}

func (h *SPIHandle) ChipSelect() uint8 { return h.cs }
func (h *SPIHandle) ClockHz() uint32   { return h.clockHz }

func (h *SPIHandle) Tx(w, r []byte) error {
	return h.arbiter.spiTransfer(h, w, r)
}

func (h *SPIHandle) Transfer(b byte) (byte, error) {
	r := []byte{0}
	err := h.arbiter.spiTransfer(h, []byte{b}, r)
	return r[0], err
}

func (h *SPIHandle) Release() {
	h.arbiter.releaseSPI(h)
}

func (h *SPIHandle) String() string {
	return fmt.Sprintf("spi:cs%d@%dHz", h.cs, h.clockHz)
}

// I2CHandle is the exclusive view of the I2C bus.
type I2CHandle struct {
	arbiter *BusArbiter
	busNo   uint8
}

func (h *I2CHandle) BusNo() uint8 { return h.busNo }

func (h *I2CHandle) Tx(addr uint16, w, r []byte) error {
	return h.arbiter.i2cTransfer(h, addr, w, r)
}

func (h *I2CHandle) Release() {
	h.arbiter.releaseI2C(h)
}

func (h *I2CHandle) String() string {
	return fmt.Sprintf("i2c:%d", h.busNo)
}
