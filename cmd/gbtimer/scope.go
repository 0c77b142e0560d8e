package main

import (
	"fmt"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/richardwooding/gbtimer/internal/timer"
)

// Scope screen dimensions (pre-scale).
const (
	scopeWidth  = 256
	scopeHeight = 160
)

// Lane geometry (rows within the scope screen).
const (
	tapHigh     = 44
	tapLow      = 70
	timaTop     = 80
	timaBottom  = 126
	irqTop      = 134
	irqBottom   = 142
	audioTop    = 148
	audioBottom = 156
)

// Scope colors (classic Game Boy green tones).
var scopePalette = [4]color.RGBA{
	{0x08, 0x18, 0x20, 0xFF}, // Background (darkest)
	{0x34, 0x68, 0x56, 0xFF}, // Baselines and bars
	{0x88, 0xC0, 0x70, 0xFF}, // Traces
	{0xE0, 0xF8, 0xD0, 0xFF}, // Pulses (lightest)
}

// ScopeCmd opens a live view of the timer's derived lines.
type ScopeCmd struct {
	Scale int   `help:"Display scale factor (1-10)." default:"3"`
	Ticks int   `default:"1024" help:"Peripheral ticks per video frame."`
	Rate  uint8 `default:"1" help:"Initial TAC clock select (0-3)."`
}

// Run executes the scope command.
func (c *ScopeCmd) Run() error {
	if c.Scale < 1 || c.Scale > 10 {
		return fmt.Errorf("%w: got %d", ErrInvalidScale, c.Scale)
	}
	if c.Rate > 3 {
		return fmt.Errorf("%w: got %d", ErrInvalidRate, c.Rate)
	}

	scope := NewScope(c.Ticks)
	scope.timer.Write(timer.TAC, 0x04|c.Rate) // enable + clock select

	ebiten.SetWindowTitle("gbtimer - timer scope")
	ebiten.SetWindowSize(scopeWidth*c.Scale, scopeHeight*c.Scale)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(60)

	if err := ebiten.RunGame(scope); err != nil {
		return fmt.Errorf("scope error: %w", err)
	}
	return nil
}

// column is one downsampled slice of the recent signal history.
type column struct {
	tap   bool
	tima  uint8
	irq   bool
	audio bool
}

// Scope implements the Ebiten game interface for the live timer view.
type Scope struct {
	timer  *timer.Timer
	screen *ebiten.Image
	pixels []byte // Pre-allocated pixel buffer to avoid GC pressure

	history [scopeWidth]column
	head    int

	ticksPerFrame int
	doubleSpeed   bool
	paused        bool
}

// NewScope creates a scope around a fresh timer.
func NewScope(ticksPerFrame int) *Scope {
	if ticksPerFrame < 1 {
		ticksPerFrame = 1
	}
	return &Scope{
		timer:         timer.New(nil),
		screen:        ebiten.NewImage(scopeWidth, scopeHeight),
		pixels:        make([]byte, scopeWidth*scopeHeight*4), // RGBA format
		ticksPerFrame: ticksPerFrame,
	}
}

// Update runs one frame worth of peripheral ticks.
// This is called 60 times per second by Ebiten.
func (s *Scope) Update() error {
	s.handleInput()
	if s.paused {
		return nil
	}

	// Collapse the frame's ticks into a quarter screen of columns so
	// the display scrolls smoothly at any tick rate.
	stride := s.ticksPerFrame / (scopeWidth / 4)
	if stride < 1 {
		stride = 1
	}

	var col column
	count := 0
	for i := 0; i < s.ticksPerFrame; i++ {
		out := s.timer.Step(timer.Inputs{Enable: true, DoubleSpeed: s.doubleSpeed})

		col.tap = s.timer.Divider()&(1<<timer.TapBit(s.timer.Read(timer.TAC))) != 0
		col.tima = s.timer.Read(timer.TIMA)
		col.irq = col.irq || out.Interrupt
		col.audio = col.audio || out.AudioEdge

		count++
		if count == stride {
			s.push(col)
			col = column{}
			count = 0
		}
	}
	return nil
}

// handleInput processes the scope's keyboard controls.
func (s *Scope) handleInput() {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeySpace):
		s.paused = !s.paused
	case inpututil.IsKeyJustPressed(ebiten.KeyE):
		// Toggle the TAC enable bit
		s.timer.Write(timer.TAC, s.timer.Read(timer.TAC)^0x04)
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		// Cycle the clock select, keeping the enable bit
		tac := s.timer.Read(timer.TAC)
		s.timer.Write(timer.TAC, tac&0x04|(tac+1)&0x03)
	case inpututil.IsKeyJustPressed(ebiten.KeyD):
		s.timer.Write(timer.DIV, 0)
	case inpututil.IsKeyJustPressed(ebiten.KeyT):
		// Park TIMA on the edge of overflow
		s.timer.Write(timer.TIMA, 0xFF)
	case inpututil.IsKeyJustPressed(ebiten.KeyS):
		s.doubleSpeed = !s.doubleSpeed
	}
}

func (s *Scope) push(c column) {
	s.history[s.head] = c
	s.head = (s.head + 1) % scopeWidth
}

// Draw renders the waveform lanes.
// This is called after Update.
func (s *Scope) Draw(screen *ebiten.Image) {
	s.render()

	// Write all pixels at once rather than per-pixel Set() calls
	s.screen.WritePixels(s.pixels)
	screen.DrawImage(s.screen, nil)

	ebitenutil.DebugPrint(screen, s.status())
}

func (s *Scope) status() string {
	return fmt.Sprintf("%v\nspace pause  E enable  R rate  D div  T tima  S speed",
		s.timer)
}

func (s *Scope) render() {
	bg := scopePalette[0]
	for i := 0; i < len(s.pixels); i += 4 {
		s.pixels[i] = bg.R
		s.pixels[i+1] = bg.G
		s.pixels[i+2] = bg.B
		s.pixels[i+3] = bg.A
	}

	for x := 0; x < scopeWidth; x++ {
		c := s.history[(s.head+x)%scopeWidth]

		// Timer tap lane: square wave between two levels
		y := tapLow
		if c.tap {
			y = tapHigh
		}
		s.plot(x, y, scopePalette[2])
		s.plot(x, y+1, scopePalette[2])

		// Counter lane: TIMA bar graph
		h := int(c.tima) * (timaBottom - timaTop) / 255
		for yy := timaBottom - h; yy <= timaBottom; yy++ {
			s.plot(x, yy, scopePalette[1])
		}
		s.plot(x, timaBottom-h, scopePalette[2])

		// Interrupt lane: filled while the line is high
		if c.irq {
			for yy := irqTop; yy <= irqBottom; yy++ {
				s.plot(x, yy, scopePalette[3])
			}
		} else {
			s.plot(x, irqBottom, scopePalette[1])
		}

		// Audio lane: one tick mark per frame sequencer pulse
		if c.audio {
			for yy := audioTop; yy <= audioBottom; yy++ {
				s.plot(x, yy, scopePalette[3])
			}
		} else {
			s.plot(x, audioBottom, scopePalette[1])
		}
	}
}

func (s *Scope) plot(x, y int, c color.RGBA) {
	offset := (y*scopeWidth + x) * 4
	s.pixels[offset] = c.R
	s.pixels[offset+1] = c.G
	s.pixels[offset+2] = c.B
	s.pixels[offset+3] = c.A
}

// Layout returns the scope screen size.
func (s *Scope) Layout(_, _ int) (int, int) {
	return scopeWidth, scopeHeight
}
