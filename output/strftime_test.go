package output

import (
	"testing"
	"time"
)

var testTime = time.Date(2014, 7, 5, 13, 37, 9, 123456000, time.UTC)

func TestFormatTime_Directives(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"@Y-@m-@d @H:@M:@S.@f", "2014-07-05 13:37:09.123456"},
		{"@Y-@m-@d_@H_@M_@S.@f", "2014-07-05_13_37_09.123456"},
		{"@y@j", "14186"},
		{"@H@p", "13PM"},
		{"@a @b", "Sat Jul"},
		{"plain text", "plain text"},
		{"100@@", "100@"},
		{"@q", "@q"}, // unsupported directives pass through
	}

	for _, tt := range tests {
		if got := FormatTime(tt.format, testTime); got != tt.want {
			t.Errorf("FormatTime(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestFormatTime_PercentAlias(t *testing.T) {
	// Inside the match filename format the directives appear with %
	// already replaced; both markers must behave the same.
	at := FormatTime("@Y@m@d", testTime)
	pct := FormatTime("%Y%m%d", testTime)
	if at != pct {
		t.Errorf("@ and %% markers disagree: %q vs %q", at, pct)
	}
}

func TestFormatTime_Stable(t *testing.T) {
	a := FormatTime(DefaultTimeFormat, testTime)
	b := FormatTime(DefaultTimeFormat, testTime)
	if a != b {
		t.Errorf("FormatTime is not stable: %q vs %q", a, b)
	}
}
