package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	if got := String("DRIFTLINE_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
	t.Setenv("DRIFTLINE_TEST_STRING", "value")
	if got := String("DRIFTLINE_TEST_STRING", "fallback"); got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
	t.Setenv("DRIFTLINE_TEST_STRING", "")
	if got := String("DRIFTLINE_TEST_STRING", "fallback"); got != "" {
		t.Fatalf("set-but-empty should win over the default, got %q", got)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("DRIFTLINE_TEST_MISSING", 5*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("Duration()=%v err=%v", got, err)
	}
	t.Setenv("DRIFTLINE_TEST_DURATION", "250ms")
	got, err = Duration("DRIFTLINE_TEST_DURATION", time.Second)
	if err != nil || got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v err=%v", got, err)
	}
	t.Setenv("DRIFTLINE_TEST_DURATION", "soon")
	if _, err := Duration("DRIFTLINE_TEST_DURATION", time.Second); err == nil {
		t.Fatalf("invalid duration accepted")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("DRIFTLINE_TEST_BOOL", "true")
	got, err := Bool("DRIFTLINE_TEST_BOOL", false)
	if err != nil || !got {
		t.Fatalf("Bool()=%v err=%v", got, err)
	}
	t.Setenv("DRIFTLINE_TEST_BOOL", "yes")
	if _, err := Bool("DRIFTLINE_TEST_BOOL", false); err == nil {
		t.Fatalf("invalid bool accepted")
	}
}

func TestInt(t *testing.T) {
	t.Setenv("DRIFTLINE_TEST_INT", "42")
	got, err := Int("DRIFTLINE_TEST_INT", 7)
	if err != nil || got != 42 {
		t.Fatalf("Int()=%v err=%v", got, err)
	}
	t.Setenv("DRIFTLINE_TEST_INT", "4.2")
	if _, err := Int("DRIFTLINE_TEST_INT", 7); err == nil {
		t.Fatalf("invalid int accepted")
	}
}

func TestFloat64(t *testing.T) {
	got, err := Float64("DRIFTLINE_TEST_MISSING", 9.5)
	if err != nil || got != 9.5 {
		t.Fatalf("Float64()=%v err=%v", got, err)
	}
	t.Setenv("DRIFTLINE_TEST_FLOAT", "10.0")
	got, err = Float64("DRIFTLINE_TEST_FLOAT", 1)
	if err != nil || got != 10 {
		t.Fatalf("Float64()=%v err=%v", got, err)
	}
	t.Setenv("DRIFTLINE_TEST_FLOAT", "ten")
	if _, err := Float64("DRIFTLINE_TEST_FLOAT", 1); err == nil {
		t.Fatalf("invalid float accepted")
	}
}
