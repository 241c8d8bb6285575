package field

import "testing"

func TestU32RoundTrip(t *testing.T) {
	want := uint32(0xDEADBEEF)
	r := NewReader(PackU32(want))
	got, err := UnpackU32(r)
	if err != nil {
		t.Fatalf("UnpackU32: %v", err)
	}
	if got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestU128RoundTrip(t *testing.T) {
	var want [U128Width]byte
	for i := range want {
		want[i] = byte(i + 1)
	}
	r := NewReader(PackU128(want))
	got, err := UnpackU128(r)
	if err != nil {
		t.Fatalf("UnpackU128: %v", err)
	}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestStringPadsAndStrips(t *testing.T) {
	packed, err := PackString("alice", 255)
	if err != nil {
		t.Fatalf("PackString: %v", err)
	}
	if len(packed) != 255 {
		t.Fatalf("packed width = %d, want 255", len(packed))
	}
	r := NewReader(packed)
	got, err := UnpackString(r, 255)
	if err != nil {
		t.Fatalf("UnpackString: %v", err)
	}
	if got != "alice" {
		t.Fatalf("got %q, want %q", got, "alice")
	}
}

func TestStringOverlongIsPackError(t *testing.T) {
	long := make([]byte, 256)
	if _, err := PackString(string(long), 255); err == nil {
		t.Fatal("expected error for overlong string")
	}
}

func TestBytesFixedWrongWidthIsPackError(t *testing.T) {
	if _, err := PackBytesFixed(make([]byte, 10), 160); err == nil {
		t.Fatal("expected error for wrong-width blob")
	}
}

func TestBytesFixedRoundTrip(t *testing.T) {
	want := make([]byte, 160)
	for i := range want {
		want[i] = 0x11
	}
	packed, err := PackBytesFixed(want, 160)
	if err != nil {
		t.Fatalf("PackBytesFixed: %v", err)
	}
	r := NewReader(packed)
	got, err := UnpackBytesFixed(r, 160)
	if err != nil {
		t.Fatalf("UnpackBytesFixed: %v", err)
	}
	if string(got) != string(want) {
		t.Fatal("round trip mismatch")
	}
}

func TestTakeShortReadIsDecodeError(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if _, err := r.Take(10); err == nil {
		t.Fatal("expected decode error for short read")
	}
}

func TestBytesRestConsumesEverything(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4})
	if _, err := r.Take(1); err != nil {
		t.Fatal(err)
	}
	rest := UnpackBytesRest(r)
	if string(rest) != string([]byte{2, 3, 4}) {
		t.Fatalf("got %v", rest)
	}
	if r.Remaining() != 0 {
		t.Fatalf("remaining = %d, want 0", r.Remaining())
	}
}
