package catlog

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// CSVLog appends match and RFID check lines to the machine-readable
// event log. Lines look like:
//
//	match, success, 0.920000, 0.800000, /out/match_....png, in
//	rfid_check, ok
type CSVLog struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewCSVLog writes to an arbitrary writer. A nil writer yields a
// disabled log whose methods are no-ops.
func NewCSVLog(w io.Writer) *CSVLog {
	return &CSVLog{w: w}
}

// OpenCSVLog appends to the log file at path, creating it if needed.
func OpenCSVLog(path string) (*CSVLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return &CSVLog{w: f, c: f}, nil
}

// Close closes the underlying file, if any.
func (l *CSVLog) Close() error {
	if l == nil || l.c == nil {
		return nil
	}
	return l.c.Close()
}

func (l *CSVLog) printf(format string, args ...interface{}) {
	if l == nil || l.w == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

// Match logs one per-frame verdict. An empty path is written as "-".
func (l *CSVLog) Match(success bool, score, threshold float64, path, direction string) {
	status := "failure"
	if success {
		status = "success"
	}
	if path == "" {
		path = "-"
	}
	l.printf("match, %s, %f, %f, %s, %s\n", status, score, threshold, path, direction)
}

// RFIDCheck logs the outcome of the KeepOpen RFID verification.
func (l *CSVLog) RFIDCheck(ok bool) {
	status := "lockout"
	if ok {
		status = "ok"
	}
	l.printf("rfid_check, %s\n", status)
}

// MatchEntry is a parsed "match" log line.
type MatchEntry struct {
	Success   bool
	Score     float64
	Threshold float64
	Path      string
	Direction string
}

// ParseMatchLine parses a line previously written by Match. The parse
// regenerates exactly the fields that produced the line.
func ParseMatchLine(line string) (MatchEntry, error) {
	var e MatchEntry

	fields := strings.Split(strings.TrimRight(line, "\n"), ", ")
	if len(fields) != 6 || fields[0] != "match" {
		return e, fmt.Errorf("not a match log line: %q", line)
	}

	switch fields[1] {
	case "success":
		e.Success = true
	case "failure":
		e.Success = false
	default:
		return e, fmt.Errorf("bad match status %q", fields[1])
	}

	var err error
	if e.Score, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return e, fmt.Errorf("bad score %q: %w", fields[2], err)
	}
	if e.Threshold, err = strconv.ParseFloat(fields[3], 64); err != nil {
		return e, fmt.Errorf("bad threshold %q: %w", fields[3], err)
	}

	e.Path = fields[4]
	e.Direction = fields[5]
	return e, nil
}
