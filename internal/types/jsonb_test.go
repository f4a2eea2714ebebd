package types

import (
	"testing"
)

func TestMetadataScanBytes(t *testing.T) {
	var m Metadata
	if err := m.Scan([]byte(`{"attempt_count":3,"invoice":"in_123"}`)); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if m["invoice"] != "in_123" {
		t.Errorf("invoice = %v, want in_123", m["invoice"])
	}
}

func TestMetadataScanString(t *testing.T) {
	var m Metadata
	if err := m.Scan(`{"k":"v"}`); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if m["k"] != "v" {
		t.Errorf("k = %v, want v", m["k"])
	}
}

func TestMetadataScanNil(t *testing.T) {
	m := Metadata{"stale": true}
	if err := m.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if m != nil {
		t.Errorf("Scan(nil) should reset to nil, got %v", m)
	}
}

func TestMetadataScanUnsupportedType(t *testing.T) {
	var m Metadata
	if err := m.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

func TestMetadataValueNil(t *testing.T) {
	var m Metadata
	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != nil {
		t.Errorf("nil Metadata should produce nil driver value, got %v", v)
	}
}

func TestPlanLimitsRoundTrip(t *testing.T) {
	in := PlanLimits{VoiceMinutes: 500, Locations: 3}
	v, err := in.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var out PlanLimits
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestPlanLimitsScanUnlimitedSentinel(t *testing.T) {
	var pl PlanLimits
	if err := pl.Scan([]byte(`{"voice_minutes":-1,"locations":-1}`)); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if pl.VoiceMinutes != UnlimitedLimit || pl.Locations != UnlimitedLimit {
		t.Errorf("sentinel lost in scan: %+v", pl)
	}
}
