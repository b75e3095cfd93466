// Package inasim simulates INA226 devices behind an I²C bus.
//
// Bus implements the Tx method used by the ina226 driver as well as the rest
// of periph.io's i2c.BusCloser, so it can stand in for real hardware.
package inasim

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
)

// ErrNACK is returned for transactions to addresses without a chip.
var ErrNACK = errors.New("inasim: address not acknowledged")

const (
	regConfig      = 0x00
	regShunt       = 0x01
	regBus         = 0x02
	regPower       = 0x03
	regCurrent     = 0x04
	regCalibration = 0x05
	regMaskEnable  = 0x06
	numRegisters   = 7

	// DefaultConfig is the configuration register after power-on or reset.
	DefaultConfig uint16 = 0x4127

	resetBit uint16 = 0x8000
	cvrfBit  uint16 = 0x0008
)

// Op records one bus transaction.
type Op struct {
	Addr uint16
	W    []byte
	R    []byte
}

// Bus is a simulated I²C bus. It is safe for concurrent use.
type Bus struct {
	mu    sync.Mutex
	chips map[uint16]*Chip
	ops   []Op
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{chips: make(map[uint16]*Chip)}
}

// Add places a freshly powered-on chip at addr and returns it.
func (b *Bus) Add(addr uint16) *Chip {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &Chip{}
	c.reset()
	b.chips[addr] = c
	return c
}

// Chip returns the chip at addr, or nil.
func (b *Bus) Chip(addr uint16) *Chip {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chips[addr]
}

// SetInputs sets the analog inputs of the chip at addr while no
// transaction is in flight.
func (b *Bus) SetInputs(addr uint16, busMillivolts, shuntMicrovolts int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chips[addr]
	if !ok {
		return fmt.Errorf("%w: 0x%02x", ErrNACK, addr)
	}
	c.SetInputs(busMillivolts, shuntMicrovolts)
	return nil
}

// Ops returns a copy of the transactions seen so far.
func (b *Bus) Ops() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Op(nil), b.ops...)
}

// ClearOps forgets recorded transactions.
func (b *Bus) ClearOps() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = nil
}

func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chips[addr]
	if !ok || c.Absent {
		return fmt.Errorf("%w: 0x%02x", ErrNACK, addr)
	}
	if c.FailNext != nil {
		err := c.FailNext
		c.FailNext = nil
		return err
	}
	if len(w) == 0 {
		return errors.New("inasim: missing register pointer")
	}
	reg := w[0]
	if int(reg) >= numRegisters {
		return fmt.Errorf("inasim: no register 0x%02x", reg)
	}
	c.pointer = reg
	switch len(w) {
	case 1:
	case 3:
		c.write(reg, uint16(w[1])<<8|uint16(w[2]))
	default:
		return fmt.Errorf("inasim: write of %d bytes", len(w)-1)
	}
	if len(r) > 0 {
		if len(r) != 2 {
			return fmt.Errorf("inasim: read of %d bytes", len(r))
		}
		v := c.read(c.pointer)
		r[0], r[1] = byte(v>>8), byte(v)
	}
	b.ops = append(b.ops, Op{Addr: addr, W: append([]byte(nil), w...), R: append([]byte(nil), r...)})
	return nil
}

func (b *Bus) String() string { return "inasim" }

func (b *Bus) SetSpeed(physic.Frequency) error { return nil }

func (b *Bus) Close() error { return nil }

// Chip is the register bank of one simulated INA226. Fields and methods must
// only be used while no transaction is in flight, or through Bus helpers.
type Chip struct {
	// Absent makes the chip stop acknowledging its address.
	Absent bool
	// FailNext, when set, is returned by the next transaction.
	FailNext error
	// ConversionPolls is how many status reads report "not ready" before a
	// started conversion completes.
	ConversionPolls int
	// IgnoreReset keeps the configuration register unchanged on reset, as a
	// chip that is not an INA226 would.
	IgnoreReset bool

	regs    [numRegisters]uint16
	pointer byte
	busy    bool
	pending int
	cvrf    bool

	busMillivolts   int32
	shuntMicrovolts int32
	writes          [numRegisters]int
}

// SetInputs sets the analog inputs seen by the chip. In continuous modes the
// registers follow immediately; triggered modes update on the next conversion.
func (c *Chip) SetInputs(busMillivolts, shuntMicrovolts int32) {
	c.busMillivolts = busMillivolts
	c.shuntMicrovolts = shuntMicrovolts
	if c.continuous() {
		c.convert()
	}
}

// Register returns the raw content of register reg.
func (c *Chip) Register(reg uint8) uint16 { return c.regs[reg] }

// SetRegister overwrites register reg without side effects.
func (c *Chip) SetRegister(reg uint8, v uint16) { c.regs[reg] = v }

// Writes returns how many times reg was written over the bus.
func (c *Chip) Writes(reg uint8) int { return c.writes[reg] }

func (c *Chip) mode() uint16 { return c.regs[regConfig] & 0x7 }

func (c *Chip) continuous() bool { return c.mode()&0x4 != 0 && c.mode() != 0x4 }

func (c *Chip) reset() {
	c.regs = [numRegisters]uint16{}
	c.regs[regConfig] = DefaultConfig
	c.busy, c.pending, c.cvrf = false, 0, false
	c.convert()
}

func (c *Chip) write(reg byte, v uint16) {
	c.writes[reg]++
	switch reg {
	case regConfig:
		if v&resetBit != 0 {
			if !c.IgnoreReset {
				c.reset()
			}
			return
		}
		c.regs[regConfig] = v
		if m := c.mode(); m != 0 && m != 0x4 {
			c.start()
		}
	case regCalibration:
		c.regs[regCalibration] = v & 0x7FFF
	case regMaskEnable:
		c.regs[regMaskEnable] = v &^ 0x001F // flag bits are read-only
	}
}

func (c *Chip) read(reg byte) uint16 {
	if reg != regMaskEnable {
		return c.regs[reg]
	}
	if c.busy {
		if c.pending > 0 {
			c.pending--
		} else {
			c.finish()
		}
	}
	v := c.regs[regMaskEnable]
	if c.cvrf {
		v |= cvrfBit
	}
	c.cvrf = false
	if c.continuous() && !c.busy {
		c.start()
	}
	return v
}

func (c *Chip) start() {
	c.busy, c.pending = true, c.ConversionPolls
}

func (c *Chip) finish() {
	c.busy = false
	c.cvrf = true
	c.convert()
}

func (c *Chip) convert() {
	m := c.mode()
	if m&0x1 != 0 {
		c.regs[regShunt] = uint16(clamp16(c.shuntMicrovolts * 10 / 25))
	}
	if m&0x2 != 0 {
		c.regs[regBus] = uint16(c.busMillivolts * 100 / 125)
	}
	shunt := int32(int16(c.regs[regShunt]))
	current := clamp16(shunt * int32(c.regs[regCalibration]) / 2048)
	c.regs[regCurrent] = uint16(current)
	if current < 0 {
		current = -current
	}
	c.regs[regPower] = uint16(int64(current) * int64(c.regs[regBus]) / 20000)
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
