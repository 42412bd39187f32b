package catlog

import (
	"bytes"
	"strings"
	"testing"
)

func TestCSVLog_MatchLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewCSVLog(&buf)

	l.Match(true, 0.92, 0.80, "/out/match_2014-07-05_13_37_09.123456__0.png", "in")

	got := buf.String()
	want := "match, success, 0.920000, 0.800000, /out/match_2014-07-05_13_37_09.123456__0.png, in\n"
	if got != want {
		t.Errorf("log line = %q, want %q", got, want)
	}
}

func TestCSVLog_MatchLineNoPath(t *testing.T) {
	var buf bytes.Buffer
	l := NewCSVLog(&buf)

	l.Match(false, 0.42, 0.80, "", "unknown")

	if !strings.Contains(buf.String(), ", -, ") {
		t.Errorf("empty path should be written as -, got %q", buf.String())
	}
}

func TestCSVLog_RFIDCheck(t *testing.T) {
	var buf bytes.Buffer
	l := NewCSVLog(&buf)

	l.RFIDCheck(true)
	l.RFIDCheck(false)

	want := "rfid_check, ok\nrfid_check, lockout\n"
	if buf.String() != want {
		t.Errorf("log = %q, want %q", buf.String(), want)
	}
}

func TestCSVLog_Disabled(t *testing.T) {
	l := NewCSVLog(nil)
	l.Match(true, 1, 1, "x", "in") // must not panic
	l.RFIDCheck(true)

	var nilLog *CSVLog
	nilLog.Match(true, 1, 1, "x", "in")
}

func TestParseMatchLine_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := NewCSVLog(&buf)

	l.Match(false, 0.654321, 0.8, "/tmp/m.png", "out")

	e, err := ParseMatchLine(buf.String())
	if err != nil {
		t.Fatalf("ParseMatchLine failed: %v", err)
	}

	if e.Success {
		t.Error("Success should round-trip as false")
	}
	if e.Score != 0.654321 {
		t.Errorf("Score = %f, want 0.654321", e.Score)
	}
	if e.Threshold != 0.8 {
		t.Errorf("Threshold = %f, want 0.8", e.Threshold)
	}
	if e.Path != "/tmp/m.png" {
		t.Errorf("Path = %q", e.Path)
	}
	if e.Direction != "out" {
		t.Errorf("Direction = %q, want out", e.Direction)
	}
}

func TestParseMatchLine_Rejects(t *testing.T) {
	bad := []string{
		"",
		"rfid_check, ok",
		"match, maybe, 1, 1, -, in",
		"match, success, NaNfish, 1, -, in",
		"match, success, 1, 1, -",
	}
	for _, line := range bad {
		if _, err := ParseMatchLine(line); err == nil {
			t.Errorf("ParseMatchLine(%q) should fail", line)
		}
	}
}
