package pstore

import "testing"

func TestHeaderEncodeValidate(t *testing.T) {
	uuid := NewFileUUID()
	buf := encodeNewHeader(uuid, 7)
	if len(buf) != HeaderSize {
		t.Fatalf("encodeNewHeader length = %d, want %d", len(buf), HeaderSize)
	}
	h := newHeaderView(buf)
	if err := validateHeader(h); err != nil {
		t.Fatalf("validateHeader: %v", err)
	}
	if h.Magic() != MagicSignature {
		t.Error("Magic() mismatch")
	}
	if h.UUID() != uuid {
		t.Error("UUID() mismatch")
	}
	if h.SyncName() != 7 {
		t.Errorf("SyncName() = %d, want 7", h.SyncName())
	}
	if h.FooterPos() != Address(HeaderSize) {
		t.Errorf("FooterPos() = %d, want %d", h.FooterPos(), HeaderSize)
	}
}

func TestHeaderRejectsBadMagic(t *testing.T) {
	buf := encodeNewHeader(NewFileUUID(), 0)
	buf[0] ^= 0xff
	h := newHeaderView(buf)
	if err := validateHeader(h); err != ErrHeaderCorrupt {
		t.Errorf("got %v, want ErrHeaderCorrupt", err)
	}
}

func TestHeaderRejectsVersionMismatch(t *testing.T) {
	buf := encodeNewHeader(NewFileUUID(), 0)
	buf[offVersion] = FormatVersionMajor + 1
	h := newHeaderView(buf)
	if err := validateHeader(h); err != ErrHeaderVersionMismatch {
		t.Errorf("got %v, want ErrHeaderVersionMismatch", err)
	}
}

func TestHeaderCrashIndicatorAtomics(t *testing.T) {
	buf := encodeNewHeader(NewFileUUID(), 0)
	h := newHeaderView(buf)
	if h.CrashIndicator() != 0 {
		t.Fatal("fresh header should have a clean crash indicator")
	}
	h.SetCrashIndicator(1)
	if h.CrashIndicator() != 1 {
		t.Error("CrashIndicator should reflect the store")
	}
	h.SetFooterPos(Address(4096))
	if h.FooterPos() != Address(4096) {
		t.Error("FooterPos should reflect the store")
	}
}
