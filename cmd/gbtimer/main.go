// Package main provides the gbtimer CLI application.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/richardwooding/gbtimer/internal/savestate"
	"github.com/richardwooding/gbtimer/internal/scenario"
	"github.com/richardwooding/gbtimer/internal/timer"
)

var (
	// ErrInvalidScale indicates the scale factor is out of valid range.
	ErrInvalidScale = errors.New("scale must be between 1 and 10")

	// ErrInvalidRate indicates a TAC clock select outside 0-3.
	ErrInvalidRate = errors.New("rate select must be between 0 and 3")

	// ErrInvalidLength indicates an unusable recording length.
	ErrInvalidLength = errors.New("seconds must be between 0 and 60")

	// ErrInvalidSampleRate indicates an unusable output sample rate.
	ErrInvalidSampleRate = errors.New("sample rate must be positive")

	// ErrInvalidWriteFlag indicates a malformed --write flag.
	ErrInvalidWriteFlag = errors.New("write flag wants TICK:REG=VALUE")
)

// CLI represents the command-line interface structure.
type CLI struct {
	Trace TraceCmd `cmd:"" help:"Run a write schedule and print the observable trace."`
	Rates RatesCmd `cmd:"" help:"Show the counter and audio clock rates."`
	Wave  WaveCmd  `cmd:"" help:"Record a derived clock signal to a WAV file."`
	Scope ScopeCmd `cmd:"" help:"Open a live scope view of the timer lines."`
}

// TraceCmd runs a scenario and prints its trace.
type TraceCmd struct {
	Script      string   `type:"existingfile" optional:"" help:"Scenario script to run (overrides --ticks and --write)."`
	Ticks       uint64   `default:"256" help:"Number of enabled ticks to run."`
	Write       []string `help:"Schedule a register write as TICK:REG=VALUE (repeatable)."`
	DoubleSpeed bool     `help:"Sample the audio tap from divider bit 5."`
	State       string   `type:"existingfile" optional:"" help:"Savestate file to restore before running."`
	Save        string   `type:"path" optional:"" help:"Savestate file to write when the run ends."`
}

// Run executes the trace command.
func (c *TraceCmd) Run() error {
	s, err := c.scenario()
	if err != nil {
		return err
	}

	if c.State != "" {
		rec, err := savestate.Load(c.State)
		if err != nil {
			return fmt.Errorf("failed to restore state: %w", err)
		}
		s.Restore = &rec
	}

	tr := scenario.Run(s)
	fmt.Print(tr.String())

	if c.Save != "" {
		if err := savestate.Save(c.Save, tr.Final); err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
		fmt.Printf("state saved to %s\n", c.Save)
	}
	return nil
}

// scenario builds the run description from the script file or the flags.
func (c *TraceCmd) scenario() (*scenario.Scenario, error) {
	if c.Script != "" {
		s, err := scenario.ParseFile(c.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to parse scenario: %w", err)
		}
		return s, nil
	}

	s := &scenario.Scenario{Ticks: c.Ticks, DoubleSpeed: c.DoubleSpeed}
	for _, flag := range c.Write {
		w, err := parseWriteFlag(flag)
		if err != nil {
			return nil, err
		}
		s.Writes = append(s.Writes, w)
	}
	if err := s.Normalize(); err != nil {
		return nil, err
	}
	return s, nil
}

// parseWriteFlag parses a --write value of the form TICK:REG=VALUE.
func parseWriteFlag(flag string) (scenario.Write, error) {
	tickStr, rest, ok := strings.Cut(flag, ":")
	if !ok {
		return scenario.Write{}, fmt.Errorf("%w: got %q", ErrInvalidWriteFlag, flag)
	}
	regStr, valueStr, ok := strings.Cut(rest, "=")
	if !ok {
		return scenario.Write{}, fmt.Errorf("%w: got %q", ErrInvalidWriteFlag, flag)
	}

	tick, err := strconv.ParseUint(tickStr, 0, 64)
	if err != nil {
		return scenario.Write{}, fmt.Errorf("%w: bad tick in %q", ErrInvalidWriteFlag, flag)
	}
	port, ok := scenario.ParsePort(regStr)
	if !ok {
		return scenario.Write{}, fmt.Errorf("%w: bad register in %q", ErrInvalidWriteFlag, flag)
	}
	value, err := strconv.ParseUint(valueStr, 0, 8)
	if err != nil {
		return scenario.Write{}, fmt.Errorf("%w: bad value in %q", ErrInvalidWriteFlag, flag)
	}
	return scenario.Write{Tick: tick, Port: port, Value: uint8(value)}, nil
}

// RatesCmd shows the derived clock rates for a base clock.
type RatesCmd struct {
	Clock uint64 `default:"4194304" help:"Base clock in Hz."`
}

// Run executes the rates command.
func (c *RatesCmd) Run() error {
	fmt.Printf("base clock: %d Hz\n\n", c.Clock)
	fmt.Printf("timer clock (TAC bits 1-0):\n")
	for sel := uint8(0); sel < 4; sel++ {
		bit := timer.TapBit(sel)
		div := uint64(1) << (bit + 1)
		fmt.Printf("  select %02b  divider bit %d  /%-5d  %d Hz\n",
			sel, bit, div, c.Clock/div)
	}

	fmt.Printf("\naudio clock (frame sequencer):\n")
	for _, speed := range []bool{false, true} {
		name := "normal"
		if speed {
			name = "double"
		}
		bit := timer.AudioTapBit(speed)
		div := uint64(1) << (bit + 1)
		fmt.Printf("  %s speed  divider bit %d  /%-5d  %d Hz\n",
			name, bit, div, c.Clock/div)
	}
	return nil
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("gbtimer"),
		kong.Description("A Game Boy timer peripheral workbench."),
		kong.UsageOnError(),
	)

	err := ctx.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
