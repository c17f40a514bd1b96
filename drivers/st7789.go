package drivers

import (
	"image"
	"image/color"
	"time"

	tinydrivers "tinygo.org/x/drivers"
)

// ST7789 command set used by the board.
const (
	st7789SWRESET = 0x01
	st7789SLPOUT  = 0x11
	st7789NORON   = 0x13
	st7789INVON   = 0x21
	st7789DISPON  = 0x29
	st7789CASET   = 0x2A
	st7789RASET   = 0x2B
	st7789RAMWR   = 0x2C
	st7789MADCTL  = 0x36
	st7789COLMOD  = 0x3A

	colmodRGB565     = 0x55
	madctlLandscape  = 0x60
	st7789ChunkBytes = 4096
)

// OutputPin is a digital line the panel driver can drive.
type OutputPin interface {
	Set(level bool) error
}

type PanelConfig struct {
	Width     int16
	Height    int16
	Landscape bool
	Inverted  bool
}

// ST7789 is a minimal RGB565 panel driver: init, fill and blit.
type ST7789 struct {
	bus    tinydrivers.SPI
	dc     OutputPin
	rst    OutputPin
	config PanelConfig

	sleep func(time.Duration)
	buf   []byte
}

func NewST7789(bus tinydrivers.SPI, dc, rst OutputPin, config PanelConfig) *ST7789 {
	return &ST7789{
		bus:    bus,
		dc:     dc,
		rst:    rst,
		config: config,
		sleep:  time.Sleep,
		buf:    make([]byte, st7789ChunkBytes),
	}
}

func (d *ST7789) Size() (int16, int16) {
	return d.config.Width, d.config.Height
}

func (d *ST7789) Init() error {
	if err := d.reset(); err != nil {
		return err
	}

	if err := d.command(st7789SWRESET); err != nil {
		return err
	}
	d.sleep(150 * time.Millisecond)

	if err := d.command(st7789SLPOUT); err != nil {
		return err
	}
	d.sleep(120 * time.Millisecond)

	if err := d.command(st7789COLMOD, colmodRGB565); err != nil {
		return err
	}

	madctl := byte(0x00)
	if d.config.Landscape {
		madctl = madctlLandscape
	}
	if err := d.command(st7789MADCTL, madctl); err != nil {
		return err
	}

	if d.config.Inverted {
		if err := d.command(st7789INVON); err != nil {
			return err
		}
	}

	if err := d.command(st7789NORON); err != nil {
		return err
	}
	if err := d.command(st7789DISPON); err != nil {
		return err
	}
	d.sleep(10 * time.Millisecond)
	return nil
}

func (d *ST7789) reset() error {
	if err := d.rst.Set(false); err != nil {
		return err
	}
	d.sleep(10 * time.Millisecond)
	if err := d.rst.Set(true); err != nil {
		return err
	}
	d.sleep(120 * time.Millisecond)
	return nil
}

func (d *ST7789) command(cmd byte, data ...byte) error {
	if err := d.dc.Set(false); err != nil {
		return err
	}
	if err := d.bus.Tx([]byte{cmd}, nil); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := d.dc.Set(true); err != nil {
		return err
	}
	return d.bus.Tx(data, nil)
}

func (d *ST7789) setWindow(x0, y0, x1, y1 int16) error {
	if err := d.command(st7789CASET, byte(x0>>8), byte(x0), byte(x1>>8), byte(x1)); err != nil {
		return err
	}
	if err := d.command(st7789RASET, byte(y0>>8), byte(y0), byte(y1>>8), byte(y1)); err != nil {
		return err
	}
	if err := d.command(st7789RAMWR); err != nil {
		return err
	}
	return d.dc.Set(true)
}

// FillRectangle paints a solid rectangle.
func (d *ST7789) FillRectangle(x, y, w, h int16, c color.RGBA) error {
	if w <= 0 || h <= 0 {
		return nil
	}
	if err := d.setWindow(x, y, x+w-1, y+h-1); err != nil {
		return err
	}

	px := RGB565(c)
	hi, lo := byte(px>>8), byte(px)
	for i := 0; i+1 < len(d.buf); i += 2 {
		d.buf[i] = hi
		d.buf[i+1] = lo
	}

	remaining := int(w) * int(h) * 2
	for remaining > 0 {
		n := len(d.buf)
		if remaining < n {
			n = remaining
		}
		if err := d.bus.Tx(d.buf[:n], nil); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

func (d *ST7789) Clear(c color.RGBA) error {
	return d.FillRectangle(0, 0, d.config.Width, d.config.Height, c)
}

// DrawImage blits img with its top-left corner at (x, y), clipped to the panel.
func (d *ST7789) DrawImage(x, y int16, img image.Image) error {
	b := img.Bounds()
	w, h := int16(b.Dx()), int16(b.Dy())
	if x+w > d.config.Width {
		w = d.config.Width - x
	}
	if y+h > d.config.Height {
		h = d.config.Height - y
	}
	if w <= 0 || h <= 0 {
		return nil
	}
	if err := d.setWindow(x, y, x+w-1, y+h-1); err != nil {
		return err
	}

	n := 0
	for row := 0; row < int(h); row++ {
		for col := 0; col < int(w); col++ {
			px := RGB565(color.RGBAModel.Convert(img.At(b.Min.X+col, b.Min.Y+row)).(color.RGBA))
			d.buf[n] = byte(px >> 8)
			d.buf[n+1] = byte(px)
			n += 2
			if n == len(d.buf) {
				if err := d.bus.Tx(d.buf, nil); err != nil {
					return err
				}
				n = 0
			}
		}
	}
	if n > 0 {
		return d.bus.Tx(d.buf[:n], nil)
	}
	return nil
}

// RGB565 packs a colour as rrrrrggggggbbbbb.
func RGB565(c color.RGBA) uint16 {
	return uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
}
