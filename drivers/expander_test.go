package drivers

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hubertat/swboard/errcode"
)

const boardDirections uint16 = 0b1111_0000_0000_0000

func newTestExpander(t testing.TB) (*PinSource, *MockI2C) {
	t.Helper()

	buses := NewMockBuses()
	arb := NewBusArbiter(buses)
	h, err := arb.AcquireI2C()
	assertNoError(t, err)

	return NewPinSource("xl9555", NewXL9555(h, false, false, false)), buses.I2C
}

func TestXL9555Configure(t *testing.T) {
	ps, bus := newTestExpander(t)

	assertNoError(t, ps.Configure(boardDirections))

	// config register: 1 = input
	if got := bus.Register(0x20, 0x06); got != 0xff {
		t.Errorf("config0 got %08b want %08b", got, 0xff)
	}
	if got := bus.Register(0x20, 0x07); got != 0x0f {
		t.Errorf("config1 got %08b want %08b", got, 0x0f)
	}

	assertCode(t, ps.Configure(boardDirections), errcode.ConfigRejected)
}

func TestOutputPin(t *testing.T) {
	t.Run("before configure", func(t *testing.T) {
		ps, _ := newTestExpander(t)
		_, err := ps.OutputPin(13, false)
		assertCode(t, err, errcode.ConfigRejected)
	})

	ps, bus := newTestExpander(t)
	assertNoError(t, ps.Configure(boardDirections))

	t.Run("input line", func(t *testing.T) {
		_, err := ps.OutputPin(0, false)
		assertCode(t, err, errcode.ConfigRejected)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := ps.OutputPin(16, false)
		assertCode(t, err, errcode.ConfigRejected)
	})

	dc, err := ps.OutputPin(13, false)
	assertNoError(t, err)

	t.Run("granted twice", func(t *testing.T) {
		_, err := ps.OutputPin(13, true)
		assertCode(t, err, errcode.ConfigRejected)
	})

	t.Run("set drives the output register", func(t *testing.T) {
		assertNoError(t, dc.Set(true))
		if got := bus.Register(0x20, 0x03); got != 0x20 {
			t.Errorf("output1 got %08b want %08b", got, 0x20)
		}
		assertBools(t, dc.Level(), true)

		assertNoError(t, dc.Set(false))
		if got := bus.Register(0x20, 0x03); got != 0x00 {
			t.Errorf("output1 got %08b want %08b", got, 0x00)
		}
	})

	t.Run("get reads the input register", func(t *testing.T) {
		bus.SetRegister(0x20, 0x01, 0x20)
		level, err := dc.Get()
		assertNoError(t, err)
		assertBools(t, level, true)
	})

	t.Run("bus failure", func(t *testing.T) {
		bus.Fail(errors.New("nack"))
		assertCode(t, dc.Set(true), errcode.IoFailure)
	})
}

func TestPinsSharedAcrossGoroutines(t *testing.T) {
	ps, bus := newTestExpander(t)
	assertNoError(t, ps.Configure(boardDirections))
	bus.TxDelay = 500 * time.Microsecond

	var pins []*PinHandle
	for pin := uint8(12); pin < 16; pin++ {
		h, err := ps.OutputPin(pin, false)
		assertNoError(t, err)
		pins = append(pins, h)
	}

	var wg sync.WaitGroup
	for _, h := range pins {
		wg.Add(1)
		go func(h *PinHandle) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				h.Set(i%2 == 0)
			}
		}(h)
	}
	wg.Wait()

	assertInts(t, bus.MaxInFlight(), 1)
	// every pin finished on level true (i == 4)
	if got := bus.Register(0x20, 0x03); got != 0xf0 {
		t.Errorf("output1 got %08b want %08b", got, 0xf0)
	}
}

func TestPinHandleString(t *testing.T) {
	ps, _ := newTestExpander(t)
	assertNoError(t, ps.Configure(boardDirections))
	h, err := ps.OutputPin(12, false)
	assertNoError(t, err)

	if got, want := h.String(), "xl9555:P12"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
}
