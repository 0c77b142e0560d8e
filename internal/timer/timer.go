// Package timer implements the Game Boy timer peripheral.
//
// The peripheral consists of:
//   - DIV: Divider register (high byte of a free-running 16-bit counter)
//   - TIMA: Timer counter (increments on falling edges of a divider tap)
//   - TMA: Timer modulo (value reloaded into TIMA after overflow)
//   - TAC: Timer control (enable and clock select)
//
// TIMA overflow does not reload immediately. The overflow mark travels
// through a 5-stage delay pipeline that raises the interrupt line four
// ticks after the overflow and reloads TIMA from TMA on the tick after
// that. Register writes landing inside this window change the outcome
// and are reproduced bit for bit, as are the divider write quirk and the
// derived audio clock edge that feeds the APU frame sequencer.
//
// Everything advances through a single synchronous Step function. All
// derived signals for a tick are computed from the state latched by the
// previous tick, then every mutation commits at once, so same-tick races
// between software writes and internal events resolve exactly one way.
package timer

import (
	"fmt"

	"github.com/richardwooding/gbtimer/internal/savestate"
)

// InterruptCallback is the function type for timer interrupt requests.
// It fires once per overflow event, on the tick the interrupt line rises.
type InterruptCallback func()

// Timer represents the Game Boy timer peripheral.
type Timer struct {
	divCounter uint16 // Internal 16-bit counter (DIV is upper 8 bits)
	tima       uint8  // Timer counter ($FF05)
	tma        uint8  // Timer modulo ($FF06)
	tac        uint8  // Timer control ($FF07), lower 3 bits

	overflow   uint8 // 5-bit overflow delay pipeline; bit 4 drives the interrupt line
	timerClock bool  // Last sampled value of the selected divider tap
	soundClock bool  // Last sampled value of the audio tap

	// State loaded while the reset line is held: power-on defaults, or
	// the last restored savestate record.
	image savestate.Record

	// Callback for timer interrupt
	requestInterrupt InterruptCallback
}

// Register addresses.
const (
	DIV  = 0xFF04
	TIMA = 0xFF05
	TMA  = 0xFF06
	TAC  = 0xFF07
)

// Port codes on the 2-bit register select.
const (
	PortDIV  uint8 = 0
	PortTIMA uint8 = 1
	PortTMA  uint8 = 2
	PortTAC  uint8 = 3

	portMask uint8 = 0x03
)

// TAC register bits.
const (
	tacEnableBit = 0x04 // Bit 2: Timer enable
	tacClockMask = 0x03 // Bits 1-0: Clock select
	tacWriteMask = 0x07 // Only the lower 3 bits are writable
)

// Overflow pipeline bits.
const (
	pipelineMask   = 0x1F // 5-bit shift register
	pipelineIRQ    = 0x10 // Bit 4: interrupt request / reload pending
	pipelineCancel = 0x1E // Bits 1-4: cleared by a TIMA write
)

// divWriteReset is the internal divider value after any write to DIV.
// The counter restarts at 2, not 0, matching observed hardware.
const divWriteReset = 0x0002

// powerOnDivider is the divider value right after the boot ROM hands
// control to the cartridge (DIV reads back 0xAB).
const powerOnDivider = 0xABCC

// Inputs carries the external signals for one tick.
type Inputs struct {
	// Enable gates the tick. When false nothing advances; ticks can be
	// delivered at a higher host rate and only counted when enabled.
	Enable bool

	// Reset is a level-sensitive synchronous reset. While asserted the
	// registers are forced to the reset image every tick and no other
	// peripheral logic runs.
	Reset bool

	// DoubleSpeed selects divider bit 5 instead of bit 4 as the audio
	// tap, halving nothing else.
	DoubleSpeed bool

	// Access is the register transaction presented this tick, if any.
	Access Access
}

// Access is a register-file transaction: a read or a write of one of the
// four ports, presented for exactly one tick.
type Access struct {
	Select bool  // Transaction present this tick
	Addr   uint8 // 2-bit port code (PortDIV..PortTAC)
	Write  bool  // Write when true, read when false
	Data   uint8 // Write data
}

// Outputs carries the observable results of one tick.
type Outputs struct {
	// Data is the combinational read response: the addressed register
	// for a read transaction, 0xFF (open bus) otherwise.
	Data uint8

	// Interrupt is the interrupt request level after the tick. The line
	// follows overflow pipeline bit 4 and is high for exactly one tick
	// per overflow event unless the timer is disabled mid-flight.
	Interrupt bool

	// AudioEdge pulses for one tick on each falling edge of the audio
	// tap. It is the only signal exposed to the audio subsystem.
	AudioEdge bool
}

// next holds the state being assembled for the current tick. Mutations
// accumulate here and commit together, so every rule reads the previous
// tick's latched values no matter the order rules run in.
type next struct {
	divCounter uint16
	tima       uint8
	tma        uint8
	tac        uint8
	overflow   uint8
}

// New creates a Timer in its power-on state with the given interrupt callback.
func New(requestInterrupt InterruptCallback) *Timer {
	t := &Timer{
		image:            savestate.Record{Divider: powerOnDivider},
		requestInterrupt: requestInterrupt,
	}
	t.load(t.image)
	return t
}

// Step advances the peripheral by one host tick.
//
// Reset takes precedence over everything: the reset image is loaded and
// no other logic runs. A tick with Enable low changes nothing but still
// serves combinational reads. On an enabled tick the divider advances,
// the overflow pipeline shifts, edges are detected against the previous
// tick's samples, and any write transaction lands in the same atomic
// commit, which is what produces the documented same-tick races.
func (t *Timer) Step(in Inputs) Outputs {
	if in.Reset {
		t.load(t.image)
		return Outputs{Data: t.respond(in.Access), Interrupt: t.irqLevel()}
	}
	if !in.Enable {
		return Outputs{Data: t.respond(in.Access), Interrupt: t.irqLevel()}
	}

	// Sample the derived clocks from the previous tick's latched state.
	enabled := t.tac&tacEnableBit != 0
	timerClock := t.divCounter&(1<<TapBit(t.tac)) != 0
	soundClock := t.divCounter&(1<<AudioTapBit(in.DoubleSpeed)) != 0

	increment := enabled && t.timerClock && !timerClock
	reloading := enabled && t.overflow&pipelineIRQ != 0
	audioEdge := t.soundClock && !soundClock
	wasIRQ := t.irqLevel()

	n := next{
		divCounter: t.divCounter + 1,
		tima:       t.tima,
		tma:        t.tma,
		tac:        t.tac,
		overflow:   t.overflow,
	}

	// The pipeline decays one stage per tick while the timer is enabled;
	// disabling TAC freezes it (and the counter) in place.
	if enabled {
		n.overflow = t.overflow << 1 & pipelineMask
	}

	if increment {
		n.tima = t.tima + 1
		if t.tima == 0xFF {
			// The increment result 0x00 is stored and the overflow
			// mark enters the pipeline at bit 0.
			n.overflow |= 0x01
		}
	}

	if reloading {
		n.tima = t.tma
	}

	if in.Access.Select && in.Access.Write {
		applyWrite(&n, in.Access.Addr&portMask, in.Access.Data, reloading)
	}

	out := Outputs{Data: t.respond(in.Access), AudioEdge: audioEdge}

	t.divCounter = n.divCounter
	t.tima = n.tima
	t.tma = n.tma
	t.tac = n.tac
	t.overflow = n.overflow
	t.timerClock = timerClock
	t.soundClock = soundClock

	out.Interrupt = t.irqLevel()
	if out.Interrupt && !wasIRQ && t.requestInterrupt != nil {
		t.requestInterrupt()
	}
	return out
}

// Tick performs one enabled tick with no register transaction.
func (t *Timer) Tick() Outputs {
	return t.Step(Inputs{Enable: true})
}

// applyWrite folds a register write into the next-state commit. The
// write races the increment and reload rules computed for the same tick:
// a DIV write overrides the divider advance, a TIMA write loses to a
// pending reload but always clears the in-flight pipeline marks, and a
// TMA write coincident with the reload supplies the reloaded value.
func applyWrite(n *next, port, value uint8, reloading bool) {
	switch port {
	case PortDIV:
		// Any write restarts the internal counter at 2, never 0,
		// regardless of the written value.
		n.divCounter = divWriteReset

	case PortTIMA:
		if reloading {
			// The reload from TMA takes precedence; the written value
			// is discarded. Clearing bits 1-4 still suppresses any
			// second overflow already in flight.
			n.overflow &^= pipelineCancel
			return
		}
		n.tima = value
		// Cancel a pending interrupt/reload. A mark inserted this very
		// tick sits at bit 0 and survives.
		n.overflow &^= pipelineCancel

	case PortTMA:
		n.tma = value
		if reloading {
			// Coincident with the reload the write wins: the new
			// modulo is what lands in TIMA.
			n.tima = value
		}

	case PortTAC:
		n.tac = value & tacWriteMask
	}
}

// Read reads a timer register. Reads are combinational and may be issued
// at any time; they never advance the peripheral.
func (t *Timer) Read(addr uint16) uint8 {
	switch addr {
	case DIV:
		return uint8(t.divCounter >> 8) //nolint:gosec // DIV is upper 8 bits
	case TIMA:
		return t.tima
	case TMA:
		return t.tma
	case TAC:
		return t.tac | 0xF8 // Upper 5 bits read as 1
	}
	return 0xFF
}

// Write performs a register write. The write transaction occupies one
// enabled tick, so the peripheral advances by one tick as the value
// lands, exactly as when the transaction arrives through Step. Writes to
// addresses outside the timer range do nothing.
func (t *Timer) Write(addr uint16, value uint8) Outputs {
	port, ok := portOf(addr)
	if !ok {
		return Outputs{Data: 0xFF, Interrupt: t.irqLevel()}
	}
	return t.Step(Inputs{
		Enable: true,
		Access: Access{Select: true, Addr: port, Write: true, Data: value},
	})
}

// respond produces the combinational data-out for this tick's
// transaction: the addressed register for a read, open bus otherwise.
func (t *Timer) respond(a Access) uint8 {
	if !a.Select || a.Write {
		return 0xFF
	}
	return t.Read(DIV + uint16(a.Addr&portMask))
}

// Divider returns the full internal 16-bit divider counter.
func (t *Timer) Divider() uint16 {
	return t.divCounter
}

// InterruptLevel reports the interrupt request line. The line follows
// overflow pipeline bit 4 combinationally; it is not separately latched.
func (t *Timer) InterruptLevel() bool {
	return t.irqLevel()
}

// Save captures the full internal state as a savestate record.
func (t *Timer) Save() savestate.Record {
	return savestate.Record{
		Divider:   t.divCounter,
		Counter:   t.tima,
		Modulo:    t.tma,
		Control:   t.tac,
		Overflow:  t.overflow,
		TimerEdge: t.timerClock,
		SoundEdge: t.soundClock,
	}
}

// Restore loads a savestate record verbatim, so the next tick resumes as
// if no restore had occurred. The record also becomes the image a later
// reset assertion reloads. Validation belongs to the savestate layer;
// none happens here.
func (t *Timer) Restore(rec savestate.Record) {
	t.image = rec
	t.load(rec)
}

// Reset returns the timer to its reset image: power-on defaults, or the
// last restored record.
func (t *Timer) Reset() {
	t.load(t.image)
}

// String summarises the internal state for traces and debugging.
func (t *Timer) String() string {
	return fmt.Sprintf("div=%04x tima=%02x tma=%02x tac=%03b overflow=%05b",
		t.divCounter, t.tima, t.tma, t.tac, t.overflow)
}

func (t *Timer) load(rec savestate.Record) {
	t.divCounter = rec.Divider
	t.tima = rec.Counter
	t.tma = rec.Modulo
	t.tac = rec.Control
	t.overflow = rec.Overflow
	t.timerClock = rec.TimerEdge
	t.soundClock = rec.SoundEdge
}

func (t *Timer) irqLevel() bool {
	return t.overflow&pipelineIRQ != 0
}

// TapBit returns the divider bit driving the timer clock for the given
// TAC value; only the clock-select bits are considered.
func TapBit(tac uint8) uint {
	var bit uint
	switch tac & tacClockMask {
	case 0: // 4096 Hz
		bit = 9
	case 1: // 262144 Hz
		bit = 3
	case 2: // 65536 Hz
		bit = 5
	case 3: // 16384 Hz
		bit = 7
	}
	return bit
}

// AudioTapBit returns the divider bit feeding the audio frame sequencer.
func AudioTapBit(doubleSpeed bool) uint {
	if doubleSpeed {
		return 5
	}
	return 4
}

func portOf(addr uint16) (uint8, bool) {
	if addr < DIV || addr > TAC {
		return 0, false
	}
	return uint8(addr - DIV), true //nolint:gosec // range checked above
}
