package validation

import (
	"strings"
	"testing"
)

func TestCollector(t *testing.T) {
	var c Collector
	if c.HasErrors() {
		t.Error("fresh collector should have no errors")
	}

	c.Add(nil)
	if c.HasErrors() {
		t.Error("adding nil should not record an error")
	}

	c.Add(&ValidationError{Field: "record_id", Message: "is required"})
	c.Add(ValidateRequired("operation", ""))
	if !c.HasErrors() {
		t.Fatal("expected errors")
	}
	if got := len(c.Errors()); got != 2 {
		t.Errorf("errors = %d, want 2", got)
	}
}

func TestValidateRequired(t *testing.T) {
	if err := ValidateRequired("record_id", "r1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateRequired("record_id", "   "); err == nil {
		t.Error("whitespace-only value should fail")
	}
}

func TestValidateEnum(t *testing.T) {
	allowed := []string{"local", "remote", "merged"}
	if err := ValidateEnum("chosen_version", "remote", allowed); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := ValidateEnum("chosen_version", "theirs", allowed)
	if err == nil {
		t.Fatal("unknown value should fail")
	}
	if !strings.Contains(err.Message, "local, remote, merged") {
		t.Errorf("message should list allowed values, got %q", err.Message)
	}
}

func TestValidateMaxLength(t *testing.T) {
	if err := ValidateMaxLength("entity_type", "entries", 64); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateMaxLength("entity_type", strings.Repeat("x", 65), 64); err == nil {
		t.Error("overlong value should fail")
	}
	// Rune count, not byte count.
	if err := ValidateMaxLength("entity_type", strings.Repeat("é", 64), 64); err != nil {
		t.Errorf("64 runes should pass: %v", err)
	}
}

func TestValidateUTF8AndNullBytes(t *testing.T) {
	if err := ValidateUTF8("payload", "valid ✓"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateUTF8("payload", string([]byte{0xff, 0xfe})); err == nil {
		t.Error("invalid UTF-8 should fail")
	}
	if err := ValidateNoNullBytes("payload", "a\x00b"); err == nil {
		t.Error("null byte should fail")
	}
}

func TestValidateULID(t *testing.T) {
	if err := ValidateULID("conflict_id", "01HQZX3V8N9GJKMP2R4S6T8V0W"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateULID("conflict_id", "too-short"); err == nil {
		t.Error("short value should fail")
	}
	if err := ValidateULID("conflict_id", "01HQZX3V8N9GJKMP2R4S6T8VOI"); err == nil {
		t.Error("excluded characters should fail")
	}
}
