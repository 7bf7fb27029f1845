package guard

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	fp := NewFingerprinter("domain")
	req := DetectionRequest{
		Text:    "The sky is blue.",
		Context: map[string]string{"domain": "weather"},
	}

	a := fp.Fingerprint(req)
	b := fp.Fingerprint(req)
	if a != b {
		t.Errorf("same request produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d (%s)", len(a), a)
	}
}

func TestFingerprintIgnoresIrrelevantContext(t *testing.T) {
	fp := NewFingerprinter("domain")

	a := fp.Fingerprint(DetectionRequest{
		Text:    "hello world",
		Context: map[string]string{"domain": "general", "request_id": "abc-123"},
	})
	b := fp.Fingerprint(DetectionRequest{
		Text:    "hello world",
		Context: map[string]string{"domain": "general", "request_id": "xyz-999"},
	})
	if a != b {
		t.Error("irrelevant context key changed the fingerprint")
	}

	c := fp.Fingerprint(DetectionRequest{
		Text:    "hello world",
		Context: map[string]string{"domain": "medical"},
	})
	if a == c {
		t.Error("cache-relevant context change did not change the fingerprint")
	}
}

func TestFingerprintNormalizesWhitespace(t *testing.T) {
	fp := NewFingerprinter()

	a := fp.Fingerprint(DetectionRequest{Text: "hello   world"})
	b := fp.Fingerprint(DetectionRequest{Text: " hello\tworld\n"})
	if a != b {
		t.Error("whitespace variants should fingerprint identically")
	}
}

func TestFingerprintNormalizesUnicodeVariants(t *testing.T) {
	fp := NewFingerprinter()

	// Fullwidth "Ignore" NFKC-normalizes to ASCII.
	a := fp.Fingerprint(DetectionRequest{Text: "Ｉｇｎｏｒｅ"})
	b := fp.Fingerprint(DetectionRequest{Text: "Ignore"})
	if a != b {
		t.Error("NFKC variants should fingerprint identically")
	}
}

func TestFingerprintCapsLongInput(t *testing.T) {
	fp := NewFingerprinter()

	base := make([]byte, fingerprintTextCap)
	for i := range base {
		base[i] = 'a' + byte(i%26)
	}
	long1 := string(base) + " tail one"
	long2 := string(base) + " tail two"

	// Beyond the cap the tail no longer participates; this is the
	// documented hashing-cost bound, not a collision bug.
	if fp.Fingerprint(DetectionRequest{Text: long1}) != fp.Fingerprint(DetectionRequest{Text: long2}) {
		t.Error("text beyond the cap should not affect the fingerprint")
	}

	short1 := string(base[:100]) + " tail one"
	short2 := string(base[:100]) + " tail two"
	if fp.Fingerprint(DetectionRequest{Text: short1}) == fp.Fingerprint(DetectionRequest{Text: short2}) {
		t.Error("distinct short texts should not collide")
	}
}
