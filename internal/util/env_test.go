package util

import "testing"

func TestParseBool(t *testing.T) {
	tests := []struct {
		value  string
		want   bool
		wantOK bool
	}{
		{"true", true, true},
		{"YES", true, true},
		{" on ", true, true},
		{"0", false, true},
		{"off", false, true},
		{"maybe", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		got, ok := ParseBool(tt.value)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseBool(%q) = %v, %v; want %v, %v", tt.value, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFirstEnv(t *testing.T) {
	t.Setenv("TRIAGE_TEST_A", "  ")
	t.Setenv("TRIAGE_TEST_B", "second")
	t.Setenv("TRIAGE_TEST_C", "third")

	if got := FirstEnv("TRIAGE_TEST_A", "TRIAGE_TEST_B", "TRIAGE_TEST_C"); got != "second" {
		t.Errorf("FirstEnv() = %q, want %q", got, "second")
	}
	if got := FirstEnv("TRIAGE_TEST_MISSING"); got != "" {
		t.Errorf("FirstEnv() = %q, want empty", got)
	}
}
