package drivers

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/hubertat/swboard/errcode"
)

type recordedTx struct {
	data bool
	w    []byte
}

type recordingPanelBus struct {
	dc  *fakePin
	txs []recordedTx
}

func (rb *recordingPanelBus) Tx(w, r []byte) error {
	rb.txs = append(rb.txs, recordedTx{data: rb.dc.level, w: append([]byte(nil), w...)})
	return nil
}

func (rb *recordingPanelBus) Transfer(b byte) (byte, error) {
	return 0, rb.Tx([]byte{b}, nil)
}

type fakePin struct {
	level   bool
	history []bool
}

func (fp *fakePin) Set(level bool) error {
	fp.level = level
	fp.history = append(fp.history, level)
	return nil
}

func newRecordingPanel(cfg PanelConfig) (*ST7789, *recordingPanelBus, *fakePin) {
	dc, rst := &fakePin{}, &fakePin{}
	bus := &recordingPanelBus{dc: dc}
	panel := NewST7789(bus, dc, rst, cfg)
	panel.sleep = func(time.Duration) {}
	return panel, bus, rst
}

func (rb *recordingPanelBus) commands() []byte {
	var cmds []byte
	for _, tx := range rb.txs {
		if !tx.data {
			cmds = append(cmds, tx.w...)
		}
	}
	return cmds
}

func TestST7789Init(t *testing.T) {
	panel, bus, rst := newRecordingPanel(PanelConfig{Width: 320, Height: 240, Landscape: true, Inverted: true})

	assertNoError(t, panel.Init())

	want := []byte{st7789SWRESET, st7789SLPOUT, st7789COLMOD, st7789MADCTL, st7789INVON, st7789NORON, st7789DISPON}
	if got := bus.commands(); !bytes.Equal(got, want) {
		t.Errorf("got commands % x want % x", got, want)
	}

	if len(rst.history) != 2 || rst.history[0] || !rst.history[1] {
		t.Errorf("reset pulse got %v", rst.history)
	}

	// COLMOD argument follows its command as data
	for i, tx := range bus.txs {
		if !tx.data && tx.w[0] == st7789COLMOD {
			next := bus.txs[i+1]
			if !next.data || !bytes.Equal(next.w, []byte{colmodRGB565}) {
				t.Errorf("colmod argument got %+v", next)
			}
		}
	}
}

func TestST7789FillRectangle(t *testing.T) {
	panel, bus, _ := newRecordingPanel(PanelConfig{Width: 320, Height: 240})

	assertNoError(t, panel.FillRectangle(0, 0, 320, 240, color.RGBA{R: 0xff, A: 0xff}))

	pixelBytes := 0
	for _, tx := range bus.txs {
		if tx.data && len(tx.w) > 4 {
			pixelBytes += len(tx.w)
			if tx.w[0] != 0xf8 || tx.w[1] != 0x00 {
				t.Fatalf("pixel got %02x%02x want f800", tx.w[0], tx.w[1])
			}
		}
	}
	assertInts(t, pixelBytes, 320*240*2)
}

func TestST7789DrawImageClips(t *testing.T) {
	panel, bus, _ := newRecordingPanel(PanelConfig{Width: 320, Height: 240})

	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	assertNoError(t, panel.DrawImage(300, 230, img))

	var caset, raset []byte
	pixelBytes := 0
	for i, tx := range bus.txs {
		switch {
		case !tx.data && tx.w[0] == st7789CASET:
			caset = bus.txs[i+1].w
		case !tx.data && tx.w[0] == st7789RASET:
			raset = bus.txs[i+1].w
		case tx.data && len(tx.w) > 4:
			pixelBytes += len(tx.w)
		}
	}

	if !bytes.Equal(caset, []byte{0x01, 0x2c, 0x01, 0x3f}) {
		t.Errorf("caset got % x", caset)
	}
	if !bytes.Equal(raset, []byte{0x00, 0xe6, 0x00, 0xef}) {
		t.Errorf("raset got % x", raset)
	}
	assertInts(t, pixelBytes, 20*10*2)
}

func TestRGB565(t *testing.T) {
	cases := []struct {
		c    color.RGBA
		want uint16
	}{
		{color.RGBA{}, 0x0000},
		{color.RGBA{R: 0xff, G: 0xff, B: 0xff}, 0xffff},
		{color.RGBA{R: 0xff}, 0xf800},
		{color.RGBA{G: 0xff}, 0x07e0},
		{color.RGBA{B: 0xff}, 0x001f},
	}
	for _, c := range cases {
		if got := RGB565(c.c); got != c.want {
			t.Errorf("RGB565(%v) got %04x want %04x", c.c, got, c.want)
		}
	}
}

func newDisplayFixture(t testing.TB) (*BusArbiter, *PinSource, *MockBuses) {
	t.Helper()

	buses := NewMockBuses()
	arb := NewBusArbiter(buses)
	i2c, err := arb.AcquireI2C()
	assertNoError(t, err)
	pins := NewPinSource("xl9555", NewXL9555(i2c, false, false, false))
	assertNoError(t, pins.Configure(boardDirections))
	return arb, pins, buses
}

func TestInitDisplay(t *testing.T) {
	arb, pins, buses := newDisplayFixture(t)

	d, err := InitDisplay(arb, pins, DefaultDisplayConfig(), SplashImage("swboard"))
	assertNoError(t, err)
	defer d.Close()

	frames := buses.SPI.Frames()
	if len(frames) == 0 {
		t.Fatal("no spi traffic")
	}
	for _, f := range frames {
		if f.CS != 0 || f.ClockHz != DefaultDisplayClockHz {
			t.Fatalf("frame on cs %d @ %d Hz", f.CS, f.ClockHz)
		}
	}
	if frames[0].W[0] != st7789SWRESET {
		t.Errorf("first command got %02x", frames[0].W[0])
	}

	// reset released, DC left in data mode
	if got := buses.I2C.Register(0x20, 0x03); got != 0x30 {
		t.Errorf("output1 got %08b want %08b", got, 0x30)
	}
}

func TestInitDisplayFailures(t *testing.T) {
	t.Run("chip-select taken", func(t *testing.T) {
		arb, pins, _ := newDisplayFixture(t)
		_, err := arb.AcquireSPI(0, 1_000_000)
		assertNoError(t, err)

		_, err = InitDisplay(arb, pins, DefaultDisplayConfig(), nil)
		assertCode(t, err, errcode.DriverInitFailure)
		assertCode(t, err, errcode.BusBusy)
	})

	t.Run("dc pin taken", func(t *testing.T) {
		arb, pins, _ := newDisplayFixture(t)
		_, err := pins.OutputPin(DefaultDisplayDCPin, false)
		assertNoError(t, err)

		_, err = InitDisplay(arb, pins, DefaultDisplayConfig(), nil)
		assertCode(t, err, errcode.DriverInitFailure)

		// the spi device was handed back
		_, err = arb.AcquireSPI(0, DefaultDisplayClockHz)
		assertNoError(t, err)
	})

	t.Run("rst pin taken", func(t *testing.T) {
		arb, pins, _ := newDisplayFixture(t)
		_, err := pins.OutputPin(DefaultDisplayRSTPin, false)
		assertNoError(t, err)

		_, err = InitDisplay(arb, pins, DefaultDisplayConfig(), nil)
		assertCode(t, err, errcode.DriverInitFailure)

		_, err = pins.OutputPin(DefaultDisplayDCPin, false)
		assertNoError(t, err)
	})

	t.Run("panel init", func(t *testing.T) {
		arb, pins, buses := newDisplayFixture(t)
		buses.SPI.Fail(errors.New("miso stuck"))

		_, err := InitDisplay(arb, pins, DefaultDisplayConfig(), nil)
		assertCode(t, err, errcode.DriverInitFailure)

		// everything was handed back
		_, err = pins.OutputPin(DefaultDisplayDCPin, false)
		assertNoError(t, err)
		_, err = pins.OutputPin(DefaultDisplayRSTPin, false)
		assertNoError(t, err)
		_, err = arb.AcquireSPI(0, DefaultDisplayClockHz)
		assertNoError(t, err)
	})
}

func TestSplashImage(t *testing.T) {
	img := SplashImage("hello", "swboard")
	b := img.Bounds()
	if b.Dx() < 7*len("swboard") || b.Dy() < 2*13 {
		t.Errorf("splash too small: %v", b)
	}
}
