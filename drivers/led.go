package drivers

import (
	"fmt"
	"image/color"
	"sync"

	"github.com/hubertat/swboard/errcode"
	tinydrivers "tinygo.org/x/drivers"
)

// LedStrip is a single addressable RGB led.
type LedStrip interface {
	WriteColor(c color.RGBA) error
}

// HSV converts a hue/saturation/value triple on the 0..255 scale to RGB using
// six equal hue sectors.
func HSV(hue, sat, val uint8) color.RGBA {
	v := uint16(val)
	s := uint16(sat)
	f := (uint16(hue) * 2 % 85) * 3

	p := uint8(v * (255 - s) / 255)
	q := uint8(v * (255 - (s*f)/255) / 255)
	t := uint8(v * (255 - (s*(255-f))/255) / 255)
	vv := uint8(v)

	switch {
	case hue <= 42:
		return color.RGBA{R: vv, G: t, B: p, A: 0xff}
	case hue <= 84:
		return color.RGBA{R: q, G: vv, B: p, A: 0xff}
	case hue <= 127:
		return color.RGBA{R: p, G: vv, B: t, A: 0xff}
	case hue <= 169:
		return color.RGBA{R: p, G: q, B: vv, A: 0xff}
	case hue <= 212:
		return color.RGBA{R: t, G: p, B: vv, A: 0xff}
	case hue <= 254:
		return color.RGBA{R: vv, G: p, B: q, A: 0xff}
	default:
		return color.RGBA{R: vv, G: t, B: p, A: 0xff}
	}
}

// WS2812ClockHz makes three SPI bits span one 1.25 µs led bit.
const WS2812ClockHz = 2_400_000

// WS2812 drives one led by shaping its bit stream on the SPI MOSI line:
// every led bit becomes the three SPI bits 110 (one) or 100 (zero).
type WS2812 struct {
	bus tinydrivers.SPI
	buf [9 + ws2812ResetBytes]byte
}

const ws2812ResetBytes = 24

func NewWS2812(bus tinydrivers.SPI) *WS2812 {
	return &WS2812{bus: bus}
}

func (ws *WS2812) WriteColor(c color.RGBA) error {
	encodeWS2812(ws.buf[:9], c)
	if err := ws.bus.Tx(ws.buf[:], nil); err != nil {
		return ioFailure(fmt.Sprintf("ws2812 write %v", c), err)
	}
	return nil
}

// encodeWS2812 writes the GRB stream for c into dst (9 bytes).
func encodeWS2812(dst []byte, c color.RGBA) {
	var bits uint32
	n := 0
	out := 0
	for _, b := range []byte{c.G, c.R, c.B} {
		for i := 7; i >= 0; i-- {
			sym := uint32(0b100)
			if b&(1<<i) != 0 {
				sym = 0b110
			}
			bits = bits<<3 | sym
			n += 3
			for n >= 8 {
				dst[out] = byte(bits >> (n - 8))
				out++
				n -= 8
			}
		}
	}
}

// NoLed is used on boards built without a strip.
type NoLed struct{}

func (NoLed) WriteColor(color.RGBA) error { return nil }

// MockLed records every colour written to it.
type MockLed struct {
	mu      sync.Mutex
	colors  []color.RGBA
	FailAll bool
}

func (ml *MockLed) WriteColor(c color.RGBA) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.FailAll {
		return errcode.New(errcode.IoFailure, "mock led write", nil)
	}
	ml.colors = append(ml.colors, c)
	return nil
}

func (ml *MockLed) Colors() []color.RGBA {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return append([]color.RGBA(nil), ml.colors...)
}
