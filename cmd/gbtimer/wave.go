package main

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/richardwooding/gbtimer/internal/timer"
)

// WaveCmd records one of the timer's derived lines to a WAV file by
// stepping the real peripheral at the emulated clock rate.
type WaveCmd struct {
	Out         string  `arg:"" type:"path" help:"Output WAV file."`
	Signal      string  `default:"timer" enum:"timer,audio,interrupt" help:"Line to record: timer, audio or interrupt."`
	Rate        uint8   `default:"1" help:"TAC clock select (0-3)."`
	Seconds     float64 `default:"1.0" help:"Recording length in seconds."`
	SampleRate  int     `default:"48000" help:"Output sample rate in Hz."`
	Clock       uint64  `default:"4194304" help:"Emulated tick rate in Hz. Lower it to bring fast lines into audible range."`
	DoubleSpeed bool    `help:"Sample the audio tap from divider bit 5."`
}

// Run executes the wave command.
func (c *WaveCmd) Run() error {
	if c.Rate > 3 {
		return fmt.Errorf("%w: got %d", ErrInvalidRate, c.Rate)
	}
	if c.Seconds <= 0 || c.Seconds > 60 {
		return fmt.Errorf("%w: got %g", ErrInvalidLength, c.Seconds)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, c.SampleRate)
	}

	samples := c.record()

	f, err := os.Create(c.Out)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}

	// 16-bit mono PCM
	enc := wav.NewEncoder(f, c.SampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: c.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("failed to write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close WAV file: %w", err)
	}

	fmt.Printf("wrote %d samples (%s line, %.2fs) to %s\n", len(samples), c.Signal, c.Seconds, c.Out)
	return nil
}

// record steps the peripheral once per emulated tick and box-filters the
// selected line down to the output sample rate. The timer and interrupt
// lines toggle a level per event so periodic events come out as audible
// square waves.
func (c *WaveCmd) record() []int {
	t := timer.New(nil)
	t.Write(timer.TAC, 0x04|c.Rate) // enable + clock select

	total := uint64(c.Seconds * float64(c.Clock))
	stride := c.Clock / uint64(c.SampleRate)
	if stride == 0 {
		stride = 1
	}

	samples := make([]int, 0, total/stride+1)
	level := false
	prevIRQ := t.InterruptLevel()
	var sum, n uint64

	for tick := uint64(0); tick < total; tick++ {
		out := t.Step(timer.Inputs{Enable: true, DoubleSpeed: c.DoubleSpeed})

		switch c.Signal {
		case "timer":
			level = t.Divider()&(1<<timer.TapBit(c.Rate)) != 0
		case "audio":
			if out.AudioEdge {
				level = !level
			}
		case "interrupt":
			if out.Interrupt && !prevIRQ {
				level = !level
			}
		}
		prevIRQ = out.Interrupt

		if level {
			sum++
		}
		n++
		if n == stride {
			samples = append(samples, toPCM(sum, n))
			sum, n = 0, 0
		}
	}
	return samples
}

// toPCM maps the high fraction of one sample window onto a 16-bit value.
func toPCM(sum, n uint64) int {
	frac := float64(sum) / float64(n)
	return int(math.Round((frac*2 - 1) * 26000))
}
