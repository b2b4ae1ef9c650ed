package memio

import (
	"errors"
	"testing"
)

func TestReaderU16LittleEndian(t *testing.T) {
	r := NewReader([]byte{0x12, 0x34})
	v, err := r.U16()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0x3412 {
		t.Fatalf("expected 0x3412, got 0x%x", v)
	}
}

func TestReaderOutOfBounds(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.U16(); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestReaderSeekAndU8(t *testing.T) {
	r := NewReader([]byte{0xaa, 0xbb, 0xcc})
	r.Seek(2)
	b, err := r.U8()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b != 0xcc {
		t.Fatalf("expected 0xcc, got 0x%x", b)
	}
}

func TestReadWriteU16At(t *testing.T) {
	buf := make([]byte, 4)
	if err := WriteU16At(buf, 1, 0xbeef); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := ReadU16At(buf, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0xbeef {
		t.Fatalf("expected 0xbeef, got 0x%x", v)
	}
}

func TestReadI16AtNegative(t *testing.T) {
	buf := []byte{0xff, 0xff}
	v, err := ReadI16At(buf, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != -1 {
		t.Fatalf("expected -1, got %d", v)
	}
}
