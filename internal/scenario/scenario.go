// Package scenario runs scripted register-write schedules against the
// timer peripheral and records what software would observe.
//
// A scenario is deterministic: a tick count, the audio tap speed, an
// optional starting savestate, and writes bound to specific ticks. Each
// write is folded into its tick's inputs, so write/tick coincidences
// land exactly where the script says. Traces from two runs of the same
// scenario are always identical, which makes scenarios the tool for
// characterizing the overflow-window quirks.
package scenario

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/richardwooding/gbtimer/internal/savestate"
	"github.com/richardwooding/gbtimer/internal/timer"
)

var (
	ErrMissingTicks     = errors.New("scenario never sets ticks")
	ErrUnknownDirective = errors.New("unknown scenario directive")
	ErrUnknownRegister  = errors.New("unknown register name")
	ErrDuplicateWrite   = errors.New("multiple writes scheduled on one tick")
)

// Write schedules a register write on one tick of the run. Ticks are
// numbered from 1; tick 0 is the state before anything happens.
type Write struct {
	Tick  uint64
	Port  uint8
	Value uint8
}

// Scenario describes one deterministic run.
type Scenario struct {
	Ticks       uint64
	DoubleSpeed bool
	Restore     *savestate.Record // Starting state; power-on when nil
	Writes      []Write           // Sorted by tick, at most one per tick
}

// Event is one row of a trace: recorded whenever a software-visible
// register changed, a line pulsed, or a write landed.
type Event struct {
	Tick      uint64
	DIV       uint8
	TIMA      uint8
	Interrupt bool
	AudioEdge bool
	Note      string // Write description, empty otherwise
}

// Trace is the observable record of a run.
type Trace struct {
	Events     []Event
	Interrupts int // Rising edges of the interrupt line
	AudioEdges int
	Final      savestate.Record
}

// Run executes the scenario against a fresh (or restored) timer.
func Run(s *Scenario) *Trace {
	return run(s, 0)
}

// RunSplit executes the scenario with a checkpoint: after tick at, the
// state is saved and restored into a brand-new timer before the run
// continues. The trace must be indistinguishable from Run's.
func RunSplit(s *Scenario, at uint64) *Trace {
	return run(s, at)
}

func run(s *Scenario, checkpoint uint64) *Trace {
	t := timer.New(nil)
	if s.Restore != nil {
		t.Restore(*s.Restore)
	}

	tr := &Trace{}
	prevDIV := t.Read(timer.DIV)
	prevTIMA := t.Read(timer.TIMA)
	prevIRQ := t.InterruptLevel()

	next := 0
	for tick := uint64(1); tick <= s.Ticks; tick++ {
		in := timer.Inputs{Enable: true, DoubleSpeed: s.DoubleSpeed}
		var note string
		if next < len(s.Writes) && s.Writes[next].Tick == tick {
			w := s.Writes[next]
			in.Access = timer.Access{Select: true, Addr: w.Port, Write: true, Data: w.Value}
			note = fmt.Sprintf("write %s=%#02x", PortName(w.Port), w.Value)
			next++
		}

		out := t.Step(in)

		if out.Interrupt && !prevIRQ {
			tr.Interrupts++
		}
		if out.AudioEdge {
			tr.AudioEdges++
		}

		div := t.Read(timer.DIV)
		tima := t.Read(timer.TIMA)
		if div != prevDIV || tima != prevTIMA || out.Interrupt != prevIRQ || out.AudioEdge || note != "" {
			tr.Events = append(tr.Events, Event{
				Tick:      tick,
				DIV:       div,
				TIMA:      tima,
				Interrupt: out.Interrupt,
				AudioEdge: out.AudioEdge,
				Note:      note,
			})
		}
		prevDIV, prevTIMA, prevIRQ = div, tima, out.Interrupt

		if checkpoint != 0 && tick == checkpoint {
			rec := t.Save()
			t = timer.New(nil)
			t.Restore(rec)
		}
	}

	tr.Final = t.Save()
	return tr
}

// Parse reads the scenario text format: one directive per line, with
// blank lines and #-comments ignored.
//
//	ticks 5000
//	double-speed on
//	write 100 tac 0x05
//	write 150 tima 0xff
func Parse(r io.Reader) (*Scenario, error) {
	s := &Scenario{}
	haveTicks := false

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		switch fields[0] {
		case "ticks":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: ticks wants one argument", line)
			}
			n, err := strconv.ParseUint(fields[1], 0, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: failed to parse tick count: %w", line, err)
			}
			s.Ticks = n
			haveTicks = true

		case "double-speed":
			if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
				return nil, fmt.Errorf("line %d: double-speed wants on or off", line)
			}
			s.DoubleSpeed = fields[1] == "on"

		case "write":
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: write wants tick, register, value", line)
			}
			w, err := parseWrite(fields[1], fields[2], fields[3])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			s.Writes = append(s.Writes, w)

		default:
			return nil, fmt.Errorf("line %d: %w: %q", line, ErrUnknownDirective, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	if !haveTicks {
		return nil, ErrMissingTicks
	}
	if err := s.Normalize(); err != nil {
		return nil, err
	}
	return s, nil
}

// Normalize sorts the write schedule and rejects tick collisions. Parse
// applies it; code assembling a Scenario by hand must call it before
// Run, which walks the schedule in tick order.
func (s *Scenario) Normalize() error {
	sort.SliceStable(s.Writes, func(i, j int) bool { return s.Writes[i].Tick < s.Writes[j].Tick })
	for i := 1; i < len(s.Writes); i++ {
		if s.Writes[i].Tick == s.Writes[i-1].Tick {
			return fmt.Errorf("%w: tick %d", ErrDuplicateWrite, s.Writes[i].Tick)
		}
	}
	return nil
}

// ParseFile reads a scenario from a file at path.
func ParseFile(path string) (*Scenario, error) {
	// #nosec G304 - path is provided by the user via CLI argument
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func parseWrite(tickStr, regStr, valueStr string) (Write, error) {
	tick, err := strconv.ParseUint(tickStr, 0, 64)
	if err != nil {
		return Write{}, fmt.Errorf("failed to parse tick: %w", err)
	}
	if tick == 0 {
		return Write{}, errors.New("writes start at tick 1")
	}
	port, ok := ParsePort(regStr)
	if !ok {
		return Write{}, fmt.Errorf("%w: %q", ErrUnknownRegister, regStr)
	}
	value, err := strconv.ParseUint(valueStr, 0, 8)
	if err != nil {
		return Write{}, fmt.Errorf("failed to parse value: %w", err)
	}
	return Write{Tick: tick, Port: port, Value: uint8(value)}, nil
}

var portNames = [4]string{"div", "tima", "tma", "tac"}

// PortName returns the register name for a 2-bit port code.
func PortName(port uint8) string {
	return portNames[port&0x03]
}

// ParsePort maps a register name to its 2-bit port code.
func ParsePort(name string) (uint8, bool) {
	for i, n := range portNames {
		if n == strings.ToLower(name) {
			return uint8(i), true //nolint:gosec // index is 0-3
		}
	}
	return 0, false
}

// String renders the trace as the table the trace command prints.
func (tr *Trace) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%8s  %3s  %4s  %3s  %5s  %s\n", "tick", "div", "tima", "irq", "audio", "note")
	for _, e := range tr.Events {
		irq := "."
		if e.Interrupt {
			irq = "*"
		}
		audio := "."
		if e.AudioEdge {
			audio = "*"
		}
		row := fmt.Sprintf("%8d  %3s  %4s  %3s  %5s  %s",
			e.Tick,
			fmt.Sprintf("%02x", e.DIV),
			fmt.Sprintf("%02x", e.TIMA),
			irq, audio, e.Note)
		b.WriteString(strings.TrimRight(row, " "))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "events=%d interrupts=%d audio-edges=%d final=%#016x\n",
		len(tr.Events), tr.Interrupts, tr.AudioEdges, tr.Final.Pack())
	return b.String()
}
