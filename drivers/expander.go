package drivers

import (
	"fmt"
	"sync"

	"github.com/hubertat/swboard/errcode"
	"github.com/pkg/errors"
)

const expanderPinCount = 16

// Expander is a 16-line I/O expander reached over the I2C bus.
// Direction mask bits set to 1 are outputs.
type Expander interface {
	SetDirections(outputs uint16) error
	WritePin(pin uint8, level bool) error
	ReadPin(pin uint8) (bool, error)
}

// PinSource hands out individually addressable expander lines. Every bus
// transaction goes through mu, so pins may be used from several goroutines.
type PinSource struct {
	id  string
	exp Expander

	mu         sync.Mutex
	configured bool
	outputs    uint16
	granted    uint16
}

func NewPinSource(id string, exp Expander) *PinSource {
	return &PinSource{id: id, exp: exp}
}

// Configure sets all 16 directions at once. It must be called exactly once,
// before the first pin is handed out.
func (ps *PinSource) Configure(outputs uint16) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.configured {
		return errors.Wrapf(errcode.ConfigRejected, "expander %s already configured", ps.id)
	}
	if err := ps.exp.SetDirections(outputs); err != nil {
		return ioFailure(fmt.Sprintf("expander %s configure", ps.id), err)
	}
	ps.outputs = outputs
	ps.configured = true
	return nil
}

// OutputPin grants one output line and drives it to the initial level.
func (ps *PinSource) OutputPin(pin uint8, initial bool) (*PinHandle, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.configured {
		return nil, errors.Wrapf(errcode.ConfigRejected, "expander %s used before configure", ps.id)
	}
	if pin >= expanderPinCount {
		return nil, errors.Wrapf(errcode.ConfigRejected, "expander pin %d out of range", pin)
	}
	mask := uint16(1) << pin
	if ps.outputs&mask == 0 {
		return nil, errors.Wrapf(errcode.ConfigRejected, "expander %s pin %d is configured as input", ps.id, pin)
	}
	if ps.granted&mask != 0 {
		return nil, errors.Wrapf(errcode.ConfigRejected, "expander %s pin %d already granted", ps.id, pin)
	}

	if err := ps.exp.WritePin(pin, initial); err != nil {
		return nil, ioFailure(fmt.Sprintf("expander %s pin %d", ps.id, pin), err)
	}
	ps.granted |= mask
	return &PinHandle{source: ps, pin: pin, level: initial}, nil
}

func (ps *PinSource) set(h *PinHandle, level bool) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := ps.exp.WritePin(h.pin, level); err != nil {
		return ioFailure(fmt.Sprintf("expander %s set pin %d", ps.id, h.pin), err)
	}
	h.level = level
	return nil
}

func (ps *PinSource) get(h *PinHandle) (bool, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	level, err := ps.exp.ReadPin(h.pin)
	if err != nil {
		return false, ioFailure(fmt.Sprintf("expander %s get pin %d", ps.id, h.pin), err)
	}
	h.level = level
	return level, nil
}

func (ps *PinSource) ID() string { return ps.id }

// PinHandle is one granted expander line.
type PinHandle struct {
	source *PinSource
	pin    uint8
	level  bool
}

func (ph *PinHandle) Pin() uint8 { return ph.pin }

func (ph *PinHandle) Set(level bool) error {
	return ph.source.set(ph, level)
}

func (ph *PinHandle) Get() (bool, error) {
	return ph.source.get(ph)
}

// Release hands the line back to the source. The pin keeps its last level.
func (ph *PinHandle) Release() {
	ph.source.mu.Lock()
	defer ph.source.mu.Unlock()
	ph.source.granted &^= uint16(1) << ph.pin
}

// Level is the last level written or read, without a bus transaction.
func (ph *PinHandle) Level() bool {
	ph.source.mu.Lock()
	defer ph.source.mu.Unlock()
	return ph.level
}

func (ph *PinHandle) String() string {
	return fmt.Sprintf("%s:P%d", ph.source.id, ph.pin)
}

// ioFailure tags err as IoFailure unless it already carries a code.
func ioFailure(op string, err error) error {
	if errcode.Of(err) != "" {
		return errors.Wrap(err, op)
	}
	return errcode.New(errcode.IoFailure, op, err)
}
