package savestate

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
)

// TestPackLayout verifies that every field lands at its frozen bit
// position.
func TestPackLayout(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want uint64
	}{
		{"zero", Record{}, 0},
		{"divider only", Record{Divider: 0xABCD}, 0x000000000000ABCD},
		{"counter only", Record{Counter: 0x12}, 0x0000000000120000},
		{"modulo only", Record{Modulo: 0x34}, 0x0000000034000000},
		{"control only", Record{Control: 0x05}, 0x0000000500000000},
		{"overflow only", Record{Overflow: 0x1F}, 0x000000F800000000},
		{"timer edge only", Record{TimerEdge: true}, 0x0000010000000000},
		{"sound edge only", Record{SoundEdge: true}, 0x0000020000000000},
		{
			"all fields",
			Record{
				Divider:   0xABCD,
				Counter:   0x12,
				Modulo:    0x34,
				Control:   0x05,
				Overflow:  0x1F,
				TimerEdge: true,
				SoundEdge: true,
			},
			0x000003FD3412ABCD,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Pack(); got != tt.want {
				t.Errorf("Pack() = %#016x, want %#016x", got, tt.want)
			}
		})
	}
}

// TestPackMasksWideFields verifies that bits above the significant width
// of Control and Overflow never leak into the packed word.
func TestPackMasksWideFields(t *testing.T) {
	rec := Record{Control: 0xFF, Overflow: 0xFF}

	got, err := Unpack(rec.Pack())
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if got.Control != 0x07 {
		t.Errorf("Control = %#02x, want 0x07", got.Control)
	}
	if got.Overflow != 0x1F {
		t.Errorf("Overflow = %#02x, want 0x1f", got.Overflow)
	}
}

// TestPackUnpackRoundTrip verifies that representative states survive a
// pack/unpack cycle unchanged.
func TestPackUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"power-on", Record{Divider: 0xABCC}},
		{"running", Record{Divider: 0x1234, Counter: 0x56, Modulo: 0x78, Control: 0x06, TimerEdge: true}},
		{"mid overflow window", Record{Divider: 20, Counter: 0x00, Modulo: 0x12, Control: 0x05, Overflow: 0x08}},
		{"interrupt pending", Record{Overflow: 0x10, Control: 0x05, SoundEdge: true}},
		{"everything high", Record{Divider: 0xFFFF, Counter: 0xFF, Modulo: 0xFF, Control: 0x07, Overflow: 0x1F, TimerEdge: true, SoundEdge: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unpack(tt.rec.Pack())
			if err != nil {
				t.Fatalf("Unpack failed: %v", err)
			}
			if got != tt.rec {
				t.Errorf("round trip = %+v, want %+v", got, tt.rec)
			}
		})
	}
}

// TestUnpackRejectsReservedBits verifies that words with any reserved
// bit set are refused instead of silently truncated.
func TestUnpackRejectsReservedBits(t *testing.T) {
	for _, bit := range []uint{42, 50, 63} {
		_, err := Unpack(uint64(1) << bit)
		if !errors.Is(err, ErrReservedBits) {
			t.Errorf("bit %d: expected ErrReservedBits, got: %v", bit, err)
		}
	}

	// The highest legal bit is fine.
	if _, err := Unpack(uint64(1) << 41); err != nil {
		t.Errorf("bit 41: unexpected error: %v", err)
	}
}

// TestEncodeDecodeRoundTrip verifies the on-disk framing: magic, version,
// packed record, sixteen bytes total.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := Record{Divider: 0xABCC, Counter: 0x42, Modulo: 0x12, Control: 0x05, Overflow: 0x02, TimerEdge: true}

	buf := new(bytes.Buffer)
	if err := Encode(buf, rec); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != 16 {
		t.Errorf("encoded length = %d, want 16", buf.Len())
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte(Magic)) {
		t.Errorf("encoded data does not start with %q", Magic)
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != rec {
		t.Errorf("decoded record = %+v, want %+v", got, rec)
	}
}

// TestDecodeWrongMagic verifies that files without the magic are
// rejected with ErrInvalidMagic.
func TestDecodeWrongMagic(t *testing.T) {
	var b []byte
	b = append(b, "GBSV"...)
	b = binary.LittleEndian.AppendUint32(b, Version)
	b = binary.LittleEndian.AppendUint64(b, 0)

	_, err := Decode(bytes.NewReader(b))
	if !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("Expected ErrInvalidMagic, got: %v", err)
	}
}

// TestDecodeUnsupportedVersion verifies that future format versions are
// refused rather than misparsed.
func TestDecodeUnsupportedVersion(t *testing.T) {
	var b []byte
	b = append(b, Magic...)
	b = binary.LittleEndian.AppendUint32(b, Version+1)
	b = binary.LittleEndian.AppendUint64(b, 0)

	_, err := Decode(bytes.NewReader(b))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Expected ErrUnsupportedVersion, got: %v", err)
	}
}

// TestDecodeReservedBits verifies that reserved-bit validation runs on
// the file path too.
func TestDecodeReservedBits(t *testing.T) {
	var b []byte
	b = append(b, Magic...)
	b = binary.LittleEndian.AppendUint32(b, Version)
	b = binary.LittleEndian.AppendUint64(b, uint64(1)<<63)

	_, err := Decode(bytes.NewReader(b))
	if !errors.Is(err, ErrReservedBits) {
		t.Errorf("Expected ErrReservedBits, got: %v", err)
	}
}

// TestDecodeTruncated verifies that short reads surface as errors at
// every stage of the header.
func TestDecodeTruncated(t *testing.T) {
	full := func() []byte {
		var b []byte
		b = append(b, Magic...)
		b = binary.LittleEndian.AppendUint32(b, Version)
		b = binary.LittleEndian.AppendUint64(b, 0x12345)
		return b
	}()

	for cut := 0; cut < len(full); cut++ {
		_, err := Decode(bytes.NewReader(full[:cut]))
		if err == nil {
			t.Errorf("Decode of %d-byte prefix succeeded, want error", cut)
		}
	}
}

// TestSaveLoadFile verifies the file convenience wrappers.
func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timer.state")
	rec := Record{Divider: 0x8000, Counter: 0x3C, Modulo: 0x12, Control: 0x07, SoundEdge: true}

	if err := Save(path, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != rec {
		t.Errorf("loaded record = %+v, want %+v", got, rec)
	}
}

// TestLoadMissingFile verifies that a missing savestate reports a
// useful error.
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.state"))
	if err == nil {
		t.Error("Load of missing file succeeded, want error")
	}
}
