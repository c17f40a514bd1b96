package drivers

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MockBuses is an in-memory BusOpener for host runs and tests.
type MockBuses struct {
	SPI *MockSPI
	I2C *MockI2C

	mu        sync.Mutex
	spiOpened int
	i2cOpened int
}

func NewMockBuses() *MockBuses {
	return &MockBuses{SPI: &MockSPI{}, I2C: NewMockI2C(1)}
}

func (mb *MockBuses) OpenSPI() (SPIBus, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.spiOpened++
	return mb.SPI, nil
}

func (mb *MockBuses) OpenI2C() (I2CBus, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.i2cOpened++
	return mb.I2C, nil
}

// Opened reports how many times each bus was brought up.
func (mb *MockBuses) Opened() (spi, i2c int) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.spiOpened, mb.i2cOpened
}

// MockSPIFrame is one recorded transaction.
type MockSPIFrame struct {
	CS      uint8
	ClockHz uint32
	W       []byte
}

type MockSPI struct {
	mu       sync.Mutex
	cs       uint8
	clockHz  uint32
	frames   []MockSPIFrame
	FailNext error
	closed   bool
}

func (ms *MockSPI) Select(cs uint8, clockHz uint32) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.cs = cs
	ms.clockHz = clockHz
	return nil
}

func (ms *MockSPI) Tx(w, r []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.FailNext != nil {
		err := ms.FailNext
		ms.FailNext = nil
		return err
	}
	ms.frames = append(ms.frames, MockSPIFrame{CS: ms.cs, ClockHz: ms.clockHz, W: append([]byte(nil), w...)})
	for i := range r {
		r[i] = 0
	}
	return nil
}

func (ms *MockSPI) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.closed = true
	return nil
}

// Frames returns a copy of the recorded transactions.
func (ms *MockSPI) Frames() []MockSPIFrame {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]MockSPIFrame(nil), ms.frames...)
}

func (ms *MockSPI) Fail(err error) {
	ms.mu.Lock()
	ms.FailNext = err
	ms.mu.Unlock()
}

// MockI2C emulates register-addressed devices: the first written byte selects
// the register, following bytes are stored at consecutive registers, reads
// return consecutive registers.
type MockI2C struct {
	busNo uint8

	// TxDelay stretches every transaction, used to expose overlapping callers.
	TxDelay time.Duration

	mu       sync.Mutex
	regs     map[uint16]*[256]byte
	failNext error
	inFlight int
	maxInFly int
	txCount  int
}

func NewMockI2C(busNo uint8) *MockI2C {
	return &MockI2C{busNo: busNo, regs: make(map[uint16]*[256]byte)}
}

func (mi *MockI2C) device(addr uint16) *[256]byte {
	d, ok := mi.regs[addr]
	if !ok {
		d = &[256]byte{}
		mi.regs[addr] = d
	}
	return d
}

func (mi *MockI2C) Tx(addr uint16, w, r []byte) error {
	mi.mu.Lock()
	mi.inFlight++
	if mi.inFlight > mi.maxInFly {
		mi.maxInFly = mi.inFlight
	}
	delay := mi.TxDelay
	mi.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	mi.mu.Lock()
	defer mi.mu.Unlock()
	mi.inFlight--
	mi.txCount++

	if mi.failNext != nil {
		err := mi.failNext
		mi.failNext = nil
		return err
	}
	if len(w) == 0 {
		return errors.New("mock i2c: empty write")
	}
	d := mi.device(addr)
	reg := w[0]
	for i, b := range w[1:] {
		d[reg+uint8(i)] = b
	}
	for i := range r {
		r[i] = d[reg+uint8(i)]
	}
	return nil
}

func (mi *MockI2C) BusNo() uint8 { return mi.busNo }
func (mi *MockI2C) Close() error { return nil }

// Register returns the current value of one emulated register.
func (mi *MockI2C) Register(addr uint16, reg uint8) byte {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.device(addr)[reg]
}

func (mi *MockI2C) SetRegister(addr uint16, reg uint8, v byte) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	mi.device(addr)[reg] = v
}

func (mi *MockI2C) Fail(err error) {
	mi.mu.Lock()
	mi.failNext = err
	mi.mu.Unlock()
}

// MaxInFlight reports the highest number of overlapping transactions seen.
func (mi *MockI2C) MaxInFlight() int {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.maxInFly
}

func (mi *MockI2C) TxCount() int {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.txCount
}
