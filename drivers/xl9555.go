package drivers

import (
	tinydrivers "tinygo.org/x/drivers"
)

const (
	xl9555BaseAddr = 0x20

	xl9555RegInput0  = 0x00
	xl9555RegOutput0 = 0x02
	xl9555RegConfig0 = 0x06
)

// XL9555 drives the 16-bit expander register map over any tinygo-style I2C bus.
// The chip's config registers use 1 for input, so the mask is inverted on write.
type XL9555 struct {
	bus  tinydrivers.I2C
	addr uint16
	out  [2]byte
}

// NewXL9555 addresses the chip from its A2/A1/A0 strap levels.
func NewXL9555(bus tinydrivers.I2C, a2, a1, a0 bool) *XL9555 {
	addr := uint16(xl9555BaseAddr)
	if a2 {
		addr |= 0x04
	}
	if a1 {
		addr |= 0x02
	}
	if a0 {
		addr |= 0x01
	}
	return &XL9555{bus: bus, addr: addr}
}

func (x *XL9555) Addr() uint16 { return x.addr }

func (x *XL9555) SetDirections(outputs uint16) error {
	cfg := ^outputs
	return x.bus.Tx(x.addr, []byte{xl9555RegConfig0, byte(cfg), byte(cfg >> 8)}, nil)
}

func (x *XL9555) WritePin(pin uint8, level bool) error {
	port := pin / 8
	bit := byte(1) << (pin % 8)
	next := x.out[port]
	if level {
		next |= bit
	} else {
		next &^= bit
	}
	if err := x.bus.Tx(x.addr, []byte{xl9555RegOutput0 + port, next}, nil); err != nil {
		return err
	}
	x.out[port] = next
	return nil
}

func (x *XL9555) ReadPin(pin uint8) (bool, error) {
	port := pin / 8
	buf := []byte{0}
	if err := x.bus.Tx(x.addr, []byte{xl9555RegInput0 + port}, buf); err != nil {
		return false, err
	}
	return buf[0]&(1<<(pin%8)) != 0, nil
}
