package drivers

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/charmbracelet/log"
	"github.com/hubertat/swboard/errcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultDisplayClockHz = 30_000_000
	DefaultDisplayDCPin   = 13
	DefaultDisplayRSTPin  = 12
)

type DisplayConfig struct {
	ChipSelect uint8
	ClockHz    uint32
	DCPin      uint8
	RSTPin     uint8
	Panel      PanelConfig
	ImageX     int16
	ImageY     int16
	Background color.RGBA
}

func DefaultDisplayConfig() DisplayConfig {
	return DisplayConfig{
		ChipSelect: 0,
		ClockHz:    DefaultDisplayClockHz,
		DCPin:      DefaultDisplayDCPin,
		RSTPin:     DefaultDisplayRSTPin,
		Panel:      PanelConfig{Width: 320, Height: 240, Landscape: true, Inverted: true},
		ImageX:     26,
		ImageY:     8,
		Background: color.RGBA{A: 0xff},
	}
}

// Display is the panel after its one-time bring-up. Nothing writes to it
// during steady-state operation.
type Display struct {
	handle *SPIHandle
	dc     *PinHandle
	rst    *PinHandle
	panel  *ST7789
}

// InitDisplay acquires the SPI device and the expander DC/RST lines, brings up
// the controller, clears it and draws img. Any failure is a startup failure.
func InitDisplay(arbiter *BusArbiter, pins *PinSource, cfg DisplayConfig, img image.Image) (_ *Display, err error) {
	handle, err := arbiter.AcquireSPI(cfg.ChipSelect, cfg.ClockHz)
	if err != nil {
		return nil, displayInitFailure("acquire spi", err)
	}
	d := &Display{handle: handle}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	d.dc, err = pins.OutputPin(cfg.DCPin, false)
	if err != nil {
		return nil, displayInitFailure("dc pin", err)
	}
	d.rst, err = pins.OutputPin(cfg.RSTPin, false)
	if err != nil {
		return nil, displayInitFailure("rst pin", err)
	}

	d.panel = NewST7789(handle, d.dc, d.rst, cfg.Panel)

	err = d.panel.Init()
	if err != nil {
		return nil, displayInitFailure("panel init", err)
	}
	err = d.panel.Clear(cfg.Background)
	if err != nil {
		return nil, displayInitFailure("clear", err)
	}
	if img != nil {
		err = d.panel.DrawImage(cfg.ImageX, cfg.ImageY, img)
		if err != nil {
			return nil, displayInitFailure("draw image", err)
		}
	}

	log.Info("display ready", "bus", handle, "dc", d.dc, "rst", d.rst, "width", cfg.Panel.Width, "height", cfg.Panel.Height)
	return d, nil
}

func (d *Display) Panel() *ST7789 { return d.panel }

// Close hands back the SPI device and the DC/RST lines.
func (d *Display) Close() {
	if d.rst != nil {
		d.rst.Release()
	}
	if d.dc != nil {
		d.dc.Release()
	}
	d.handle.Release()
}

func displayInitFailure(step string, err error) error {
	return errcode.New(errcode.DriverInitFailure, "display "+step, err)
}

// SplashImage renders the fixed banner shown after boot.
func SplashImage(lines ...string) image.Image {
	if len(lines) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	face := basicfont.Face7x13
	const padding = 4

	width := 0
	for _, line := range lines {
		if w := font.MeasureString(face, line).Ceil(); w > width {
			width = w
		}
	}
	lineHeight := face.Metrics().Height.Ceil()
	img := image.NewRGBA(image.Rect(0, 0, width+2*padding, lineHeight*len(lines)+2*padding))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 0x10, G: 0x20, B: 0x40, A: 0xff}}, image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 0xf7, G: 0x4c, B: 0x00, A: 0xff}),
		Face: face,
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(padding, padding+face.Metrics().Ascent.Ceil()+i*lineHeight)
		drawer.DrawString(line)
	}
	return img
}
