package wire

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	bodies := [][]byte{
		[]byte("hello"),
		[]byte(""),
		bytes.Repeat([]byte("x"), 4096),
	}

	for _, body := range bodies {
		frame, err := Encode(body)
		if err != nil {
			t.Fatalf("Encode(%q) failed: %v", body, err)
		}

		got, err := Decode(bufio.NewReader(bytes.NewReader(frame)))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("round trip mismatch: got %q, want %q", got, body)
		}
	}
}

func TestEncodeRejectsForbiddenByte(t *testing.T) {
	_, err := Encode([]byte("abc\x00def"))
	if err != ErrInvalidPayload {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestEncodeRejectsOversizedPacket(t *testing.T) {
	big := bytes.Repeat([]byte("a"), MaxPacketSize)
	_, err := Encode(big)
	if err != ErrOversizedPacket {
		t.Fatalf("expected ErrOversizedPacket, got %v", err)
	}
}

func TestEncodeBoundarySucceeds(t *testing.T) {
	// len(body) + 4 == MaxPacketSize must succeed.
	body := bytes.Repeat([]byte("a"), MaxPacketSize-4)
	frame, err := Encode(body)
	if err != nil {
		t.Fatalf("boundary-size Encode failed: %v", err)
	}

	got, err := Decode(bufio.NewReader(bytes.NewReader(frame)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got) != len(body) {
		t.Fatalf("got length %d, want %d", len(got), len(body))
	}

	// One byte larger must fail.
	_, err = Encode(bytes.Repeat([]byte("a"), MaxPacketSize-3))
	if err != ErrOversizedPacket {
		t.Fatalf("expected ErrOversizedPacket for oversized body, got %v", err)
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	frame, err := Encode([]byte("payload"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	frame[len(frame)-1] ^= 0xFF // corrupt checksum

	_, err = Decode(bufio.NewReader(bytes.NewReader(frame)))
	if err != ErrNotAMessage {
		t.Fatalf("expected ErrNotAMessage, got %v", err)
	}
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	frame, err := Encode([]byte("payload"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, err = Decode(bufio.NewReader(bytes.NewReader(frame[:len(frame)-2])))
	if err != ErrNotAMessage {
		t.Fatalf("expected ErrNotAMessage, got %v", err)
	}
}

func TestDecodeResynchronizesAfterGarbage(t *testing.T) {
	frame, err := Encode([]byte("payload"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	stream := append([]byte{0xAA, 0xBB, 0xCC}, frame...)
	got, err := Decode(bufio.NewReader(bytes.NewReader(stream)))
	if err != nil {
		t.Fatalf("Decode failed to resync: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}
}

func TestDecodeMissingStartByteYieldsNotAMessage(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("no start byte here"))
	_, err := Decode(r)
	if err != ErrNotAMessage {
		t.Fatalf("expected ErrNotAMessage, got %v", err)
	}
}
