package drivers

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hubertat/swboard/errcode"
)

func assertBools(t testing.TB, got, want bool) {
	t.Helper()

	if got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func assertInts(t testing.TB, got, want int) {
	t.Helper()

	if got != want {
		t.Errorf("got %d want %d", got, want)
	}
}

func assertCode(t testing.TB, err error, want errcode.Code) {
	t.Helper()

	if err == nil {
		t.Fatalf("got nil error, want %s", want)
	}
	if !errors.Is(err, want) {
		t.Errorf("got error %q, want code %s", err, want)
	}
}

func assertNoError(t testing.TB, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAcquireI2CConcurrently(t *testing.T) {
	arb := NewBusArbiter(NewMockBuses())

	const callers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, busy := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := arb.AcquireI2C()

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, errcode.BusBusy) {
				busy++
			}
		}()
	}
	wg.Wait()

	assertInts(t, ok, 1)
	assertInts(t, busy, callers-1)
}

func TestAcquireI2CAfterRelease(t *testing.T) {
	buses := NewMockBuses()
	arb := NewBusArbiter(buses)

	h, err := arb.AcquireI2C()
	assertNoError(t, err)

	_, err = arb.AcquireI2C()
	assertCode(t, err, errcode.BusBusy)

	h.Release()
	h2, err := arb.AcquireI2C()
	assertNoError(t, err)

	err = h.Tx(0x20, []byte{0x00}, nil)
	assertCode(t, err, errcode.ConfigRejected)

	err = h2.Tx(0x20, []byte{0x02, 0xaa}, nil)
	assertNoError(t, err)

	_, i2cOpened := buses.Opened()
	assertInts(t, i2cOpened, 1)
}

func TestAcquireSPIPerChipSelect(t *testing.T) {
	buses := NewMockBuses()
	arb := NewBusArbiter(buses)

	t.Run("distinct chip-selects share the bus", func(t *testing.T) {
		_, err := arb.AcquireSPI(0, 30_000_000)
		assertNoError(t, err)
		_, err = arb.AcquireSPI(1, WS2812ClockHz)
		assertNoError(t, err)
	})

	t.Run("same chip-select is busy", func(t *testing.T) {
		_, err := arb.AcquireSPI(0, 1_000_000)
		assertCode(t, err, errcode.BusBusy)
	})

	t.Run("bus opened once", func(t *testing.T) {
		spiOpened, _ := buses.Opened()
		assertInts(t, spiOpened, 1)
	})
}

func TestSPITransferCarriesDeviceSettings(t *testing.T) {
	buses := NewMockBuses()
	arb := NewBusArbiter(buses)

	display, err := arb.AcquireSPI(0, 30_000_000)
	assertNoError(t, err)
	led, err := arb.AcquireSPI(1, WS2812ClockHz)
	assertNoError(t, err)

	assertNoError(t, display.Tx([]byte{0x2c}, nil))
	assertNoError(t, led.Tx([]byte{0x92}, nil))
	got, err := display.Transfer(0x00)
	assertNoError(t, err)
	if got != 0 {
		t.Errorf("got %x want 0", got)
	}

	frames := buses.SPI.Frames()
	assertInts(t, len(frames), 3)
	if frames[0].CS != 0 || frames[0].ClockHz != 30_000_000 {
		t.Errorf("frame 0 on cs %d @ %d", frames[0].CS, frames[0].ClockHz)
	}
	if frames[1].CS != 1 || frames[1].ClockHz != WS2812ClockHz {
		t.Errorf("frame 1 on cs %d @ %d", frames[1].CS, frames[1].ClockHz)
	}
}

func TestSPITxFailureIsIoFailure(t *testing.T) {
	buses := NewMockBuses()
	arb := NewBusArbiter(buses)

	h, err := arb.AcquireSPI(0, 1_000_000)
	assertNoError(t, err)

	buses.SPI.Fail(errors.New("wire fell off"))
	assertCode(t, h.Tx([]byte{1}, nil), errcode.IoFailure)
	assertNoError(t, h.Tx([]byte{1}, nil))
}

type failingOpener struct{}

func (failingOpener) OpenSPI() (SPIBus, error) { return nil, errors.New("no spidev") }
func (failingOpener) OpenI2C() (I2CBus, error) { return nil, errors.New("no i2c adapter") }

func TestOpenFailureIsDriverInitFailure(t *testing.T) {
	arb := NewBusArbiter(failingOpener{})

	_, err := arb.AcquireSPI(0, 1)
	assertCode(t, err, errcode.DriverInitFailure)

	_, err = arb.AcquireI2C()
	assertCode(t, err, errcode.DriverInitFailure)
}

func TestI2CTransactionsAreSerialized(t *testing.T) {
	buses := NewMockBuses()
	buses.I2C.TxDelay = time.Millisecond
	arb := NewBusArbiter(buses)

	h, err := arb.AcquireI2C()
	assertNoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.Tx(0x20, []byte{0x02, byte(i)}, nil)
		}(i)
	}
	wg.Wait()

	assertInts(t, buses.I2C.MaxInFlight(), 1)
	assertInts(t, buses.I2C.TxCount(), 8)
}
