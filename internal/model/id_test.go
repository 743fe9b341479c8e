package model

import (
	"regexp"
	"testing"
	"time"
)

var idPattern = regexp.MustCompile(`^(seq|img)_[0-9]{8}T[0-9]{6}_[0-9a-f]{8}$`)

func TestGenerateID(t *testing.T) {
	now := time.Date(2026, 3, 14, 22, 5, 9, 0, time.UTC)
	types := []IDType{IDTypeSequence, IDTypeImage}
	prefixes := []string{"seq_20260314T220509_", "img_20260314T220509_"}

	for i, idType := range types {
		t.Run(string(idType), func(t *testing.T) {
			id, err := GenerateID(idType, now)
			if err != nil {
				t.Fatalf("GenerateID(%s) returned error: %v", idType, err)
			}
			if !idPattern.MatchString(id) {
				t.Errorf("generated ID %q does not match regex", id)
			}
			if id[:len(prefixes[i])] != prefixes[i] {
				t.Errorf("expected prefix %q, got %q", prefixes[i], id[:len(prefixes[i])])
			}
		})
	}
}

func TestGenerateID_InvalidType(t *testing.T) {
	_, err := GenerateID("invalid", time.Now())
	if err == nil {
		t.Error("expected error for invalid ID type")
	}
}

func TestGenerateID_Uniqueness(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateID(IDTypeImage, now)
		if err != nil {
			t.Fatalf("GenerateID returned error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestFlattenTime(t *testing.T) {
	local := time.Date(2026, 3, 14, 12, 5, 9, 0, time.FixedZone("HST", -10*3600))
	if got := FlattenTime(local); got != "20260314T220509" {
		t.Errorf("FlattenTime = %q, want 20260314T220509", got)
	}
}
