package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/marmos91/breakwater/pkg/crash"
	"github.com/marmos91/breakwater/pkg/storage"
)

func TestSaveAndFetch(t *testing.T) {
	ctx := context.Background()
	s := New()

	md := crash.Metadata{"ProductName": "Firefox"}
	dumps := crash.Dumps{"upload_file_minidump": {0x01, 0x02}}

	if err := s.SaveDumps(ctx, "id-1", dumps); err != nil {
		t.Fatalf("SaveDumps: %v", err)
	}
	if err := s.SaveRawCrash(ctx, "id-1", md); err != nil {
		t.Fatalf("SaveRawCrash: %v", err)
	}

	gotMd, ok := s.RawCrash("id-1")
	if !ok || gotMd["ProductName"] != "Firefox" {
		t.Errorf("RawCrash = %v, %v", gotMd, ok)
	}

	gotDumps, ok := s.Dumps("id-1")
	if !ok || !bytes.Equal(gotDumps["upload_file_minidump"], []byte{0x01, 0x02}) {
		t.Errorf("Dumps = %v, %v", gotDumps, ok)
	}

	if s.SaveCount() != 1 {
		t.Errorf("Expected SaveCount 1, got %d", s.SaveCount())
	}
}

func TestSavedDataIsCopied(t *testing.T) {
	ctx := context.Background()
	s := New()

	data := []byte{0x01}
	if err := s.SaveDumps(ctx, "id-1", crash.Dumps{"d": data}); err != nil {
		t.Fatalf("SaveDumps: %v", err)
	}
	data[0] = 0xFF

	got, _ := s.Dumps("id-1")
	if got["d"][0] != 0x01 {
		t.Error("Stored dump aliases caller's slice")
	}
}

func TestClosedRefusesSaves(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := s.SaveRawCrash(ctx, "id", crash.Metadata{}); !errors.Is(err, storage.ErrStorageClosed) {
		t.Errorf("Expected ErrStorageClosed, got %v", err)
	}
	if err := s.CheckHealth(ctx); !errors.Is(err, storage.ErrStorageClosed) {
		t.Errorf("Expected ErrStorageClosed from CheckHealth, got %v", err)
	}
}
