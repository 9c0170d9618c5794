package errors

import (
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := WithMetadata(CodeUnknownActivity, "unknown activity type", map[string]string{"activity": "gym"})
	wrapped := fmt.Errorf("build policy: %w", err)

	if !IsCode(wrapped, CodeUnknownActivity) {
		t.Fatalf("IsCode(wrapped, UNKNOWN_ACTIVITY) = false, want true")
	}
	if IsCode(wrapped, CodeInvalidCalendar) {
		t.Fatalf("IsCode(wrapped, INVALID_CALENDAR) = true, want false")
	}
	if got := GetCode(wrapped); got != CodeUnknownActivity {
		t.Fatalf("GetCode = %q, want %q", got, CodeUnknownActivity)
	}
}

func TestErrorMessageIncludesSortedMetadata(t *testing.T) {
	err := WithMetadata(CodeInvalidProbability, "weight must be non-negative", map[string]string{"to": "recovered", "from": "contagious"})
	want := "INVALID_PROBABILITY: weight must be non-negative (from=contagious, to=recovered)"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestWrapUnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(CodeInvariantViolation, "write checkpoint", cause)
	if err.Unwrap() != cause {
		t.Fatalf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if GetCode(cause) != CodeUnknown {
		t.Fatalf("GetCode(plain) = %q, want %q", GetCode(cause), CodeUnknown)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidConfig, 2},
		{CodeInvalidTransition, 2},
		{CodeInvariantViolation, 1},
		{CodeNotFound, 1},
	}
	for _, tt := range tests {
		if got := tt.code.ExitCode(); got != tt.want {
			t.Fatalf("%s.ExitCode() = %d, want %d", tt.code, got, tt.want)
		}
	}
}
