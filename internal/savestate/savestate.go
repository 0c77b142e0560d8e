// Package savestate persists the timer peripheral's complete internal
// state as a fixed-width packed record.
//
// The packed bit layout is frozen and must remain stable across
// versions:
//
//	bits 0-15   divider (internal 16-bit counter)
//	bits 16-23  counter (TIMA)
//	bits 24-31  modulo (TMA)
//	bits 32-34  control (TAC, low 3 bits)
//	bits 35-39  overflow pipeline
//	bit  40     timer clock edge latch
//	bit  41     sound clock edge latch
//	bits 42-63  reserved, always zero, never to be reused
//
// On disk a record is wrapped in a small header: the 4-byte magic
// "GBTM", a little-endian uint32 format version, then the little-endian
// packed record. All validation of checkpoint data happens in this
// package; the peripheral itself loads whatever record it is handed.
package savestate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Magic identifies a timer savestate file.
const Magic = "GBTM"

// Version is the current savestate format version.
const Version uint32 = 1

var (
	ErrInvalidMagic       = errors.New("not a timer savestate file")
	ErrUnsupportedVersion = errors.New("unsupported savestate version")
	ErrReservedBits       = errors.New("reserved savestate bits are set")
)

// Record holds every field of the peripheral's internal state. Control
// carries 3 significant bits and Overflow 5; Pack drops anything above
// those widths.
type Record struct {
	Divider   uint16 // Free-running 16-bit divider
	Counter   uint8  // TIMA
	Modulo    uint8  // TMA
	Control   uint8  // TAC, low 3 bits
	Overflow  uint8  // 5-bit overflow delay pipeline
	TimerEdge bool   // Last sample of the selected divider tap
	SoundEdge bool   // Last sample of the audio tap
}

// Field positions within the packed word.
const (
	dividerShift  = 0
	counterShift  = 16
	moduloShift   = 24
	controlShift  = 32
	overflowShift = 35
	timerEdgeBit  = 40
	soundEdgeBit  = 41

	controlMask  = 0x07
	overflowMask = 0x1F

	// reservedMask covers bits 42-63.
	reservedMask = ^uint64(1<<42 - 1)
)

// Pack encodes the record into the frozen 64-bit layout. Reserved bits
// are always zero.
func (r Record) Pack() uint64 {
	var v uint64
	v |= uint64(r.Divider) << dividerShift
	v |= uint64(r.Counter) << counterShift
	v |= uint64(r.Modulo) << moduloShift
	v |= uint64(r.Control&controlMask) << controlShift
	v |= uint64(r.Overflow&overflowMask) << overflowShift
	if r.TimerEdge {
		v |= 1 << timerEdgeBit
	}
	if r.SoundEdge {
		v |= 1 << soundEdgeBit
	}
	return v
}

// Unpack decodes a packed word back into a record. Words with any
// reserved bit set are rejected rather than silently truncated.
func Unpack(v uint64) (Record, error) {
	if v&reservedMask != 0 {
		return Record{}, fmt.Errorf("%w: %#016x", ErrReservedBits, v)
	}
	return Record{
		Divider:   uint16(v >> dividerShift), //nolint:gosec // low 16 bits
		Counter:   uint8(v >> counterShift),  //nolint:gosec // 8-bit field
		Modulo:    uint8(v >> moduloShift),   //nolint:gosec // 8-bit field
		Control:   uint8(v>>controlShift) & controlMask,
		Overflow:  uint8(v>>overflowShift) & overflowMask,
		TimerEdge: v&(1<<timerEdgeBit) != 0,
		SoundEdge: v&(1<<soundEdgeBit) != 0,
	}, nil
}

// Encode writes the record to w in the file format: magic, version,
// packed record.
func Encode(w io.Writer, rec Record) error {
	if _, err := w.Write([]byte(Magic)); err != nil {
		return fmt.Errorf("failed to write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, Version); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, rec.Pack()); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Decode reads a record from r, rejecting wrong magic, unknown versions,
// and reserved-bit violations.
func Decode(r io.Reader) (Record, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return Record{}, fmt.Errorf("failed to read magic: %w", err)
	}
	if string(magic) != Magic {
		return Record{}, fmt.Errorf("%w: got %q", ErrInvalidMagic, magic)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return Record{}, fmt.Errorf("failed to read version: %w", err)
	}
	if version != Version {
		return Record{}, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, version, Version)
	}

	var packed uint64
	if err := binary.Read(r, binary.LittleEndian, &packed); err != nil {
		return Record{}, fmt.Errorf("failed to read record: %w", err)
	}
	return Unpack(packed)
}

// Save writes the record to a file at path.
func Save(path string, rec Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create savestate file: %w", err)
	}
	if err := Encode(f, rec); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close savestate file: %w", err)
	}
	return nil
}

// Load reads a record from the file at path.
func Load(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to open savestate file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
