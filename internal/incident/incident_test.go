package incident

import "testing"

func TestParseCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"account_takeover", CategoryAccountTakeover, false},
		{"bruteforce", CategoryBruteforce, false},
		{"phishing", CategoryPhishing, false},
		{"unknown", CategoryUnknown, false},
		{"", "", true},
		{"Phishing", "", true},
		{"malware", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCategory(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCategory(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSeverityOrdering(t *testing.T) {
	t.Parallel()

	if !SeverityP1.AtLeast(SeverityP2) {
		t.Error("P1 should be at least as urgent as P2")
	}
	if !SeverityP2.AtLeast(SeverityP2) {
		t.Error("P2 should be at least as urgent as itself")
	}
	if SeverityP3.AtLeast(SeverityP1) {
		t.Error("P3 should not be at least as urgent as P1")
	}
	if Severity("P9").AtLeast(SeverityP4) {
		t.Error("invalid severity must never compare as urgent")
	}
}

func TestParseSeverity(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"P1", "P2", "P3", "P4"} {
		if _, err := ParseSeverity(s); err != nil {
			t.Errorf("ParseSeverity(%q): %v", s, err)
		}
	}
	for _, s := range []string{"", "p1", "P0", "P5", "critical"} {
		if _, err := ParseSeverity(s); err == nil {
			t.Errorf("ParseSeverity(%q) = nil error, want error", s)
		}
	}
}
