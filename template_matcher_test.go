package catcierge

import (
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/catcierge/catcierge-go/internal/catlog"
)

// writeSnout saves a small patterned template image and returns its
// path. The pattern avoids the degenerate flat-image correlation.
func writeSnout(t *testing.T, dir string) string {
	t.Helper()

	snout := newTestGray(24, 24, 0)
	defer snout.Close()
	fillRect(&snout, 4, 4, 20, 12, 255)
	fillRect(&snout, 8, 14, 16, 22, 128)

	path := filepath.Join(dir, "snout.png")
	if !gocv.IMWrite(path, snout) {
		t.Fatalf("failed to write snout template %s", path)
	}
	return path
}

// pasteSnout copies the snout pattern into a frame at the given origin.
func pasteSnout(frame *gocv.Mat, x0, y0 int) {
	fillRect(frame, x0+4, y0+4, x0+20, y0+12, 255)
	fillRect(frame, x0+8, y0+14, x0+16, y0+22, 128)
}

func newTemplateMatcherForTest(t *testing.T, inDir InDirection) *TemplateMatcher {
	t.Helper()

	snout := writeSnout(t, t.TempDir())
	m, err := NewTemplateMatcher(TemplateMatcherConfig{
		Snouts:         []string{snout},
		MatchThreshold: 0.8,
		InDirection:    inDir,
	}, catlog.NewNop())
	if err != nil {
		t.Fatalf("NewTemplateMatcher failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestTemplateMatcher_NoSnoutsFails(t *testing.T) {
	if _, err := NewTemplateMatcher(TemplateMatcherConfig{}, catlog.NewNop()); err == nil {
		t.Error("a matcher without snout templates must fail init")
	}
}

func TestTemplateMatcher_MissingFileFails(t *testing.T) {
	cfg := TemplateMatcherConfig{Snouts: []string{"/no/such/snout.png"}}
	if _, err := NewTemplateMatcher(cfg, catlog.NewNop()); err == nil {
		t.Error("a missing snout file must fail init")
	}
}

func TestTemplateMatcher_MatchFindsPattern(t *testing.T) {
	m := newTemplateMatcherForTest(t, InDirectionRight)

	frame := newTestGray(240, 320, 0)
	defer frame.Close()
	pasteSnout(&frame, 260, 100) // right half

	res := m.Match(frame, false)
	if !res.Success {
		t.Errorf("exact pattern should match, score = %f", res.Result)
	}
	if res.Result < 0.9 {
		t.Errorf("score = %f, want near 1 for an exact copy", res.Result)
	}
	if len(res.Rects) != 1 {
		t.Fatalf("rect count = %d, want 1", len(res.Rects))
	}
	if res.Direction != DirIn {
		t.Errorf("direction = %s, want in (match on the in side)", res.Direction)
	}
}

func TestTemplateMatcher_DirectionMapping(t *testing.T) {
	tests := []struct {
		name  string
		inDir InDirection
		x     int
		want  Direction
	}{
		{"right side with in=right", InDirectionRight, 260, DirIn},
		{"left side with in=right", InDirectionRight, 40, DirOut},
		{"right side with in=left", InDirectionLeft, 260, DirOut},
		{"left side with in=left", InDirectionLeft, 40, DirIn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTemplateMatcherForTest(t, tt.inDir)

			frame := newTestGray(240, 320, 0)
			defer frame.Close()
			pasteSnout(&frame, tt.x, 100)

			res := m.Match(frame, false)
			if res.Direction != tt.want {
				t.Errorf("direction = %s, want %s", res.Direction, tt.want)
			}
		})
	}
}

func TestTemplateMatcher_NoMatchBelowThreshold(t *testing.T) {
	m := newTemplateMatcherForTest(t, InDirectionRight)

	// Noise-free frame with an unrelated blob.
	frame := newTestGray(240, 320, 0)
	defer frame.Close()
	fillRect(&frame, 10, 10, 230, 40, 200)

	res := m.Match(frame, false)
	if res.Result < 0 {
		t.Fatalf("matcher errored: %s", res.Description)
	}
	if res.Success != (res.Result >= 0.8) {
		t.Errorf("success = %v disagrees with score %f and threshold 0.8",
			res.Success, res.Result)
	}
}

func TestTemplateMatcher_TemplateLargerThanFrame(t *testing.T) {
	m := newTemplateMatcherForTest(t, InDirectionRight)

	frame := newTestGray(8, 8, 0)
	defer frame.Close()

	res := m.Match(frame, false)
	if res.Result >= 0 {
		t.Errorf("score = %f, want a negative matcher error", res.Result)
	}
}

func TestTemplateMatcher_Obstruction(t *testing.T) {
	m := newTemplateMatcherForTest(t, InDirectionRight)

	bright := newTestGray(240, 320, 220)
	defer bright.Close()
	dark := newTestGray(240, 320, 10)
	defer dark.Close()

	if obstructed, err := m.IsFrameObstructed(bright); err != nil || obstructed {
		t.Errorf("bright backlight frame reported obstructed (%v)", err)
	}
	if obstructed, err := m.IsFrameObstructed(dark); err != nil || !obstructed {
		t.Errorf("dark silhouette frame not reported obstructed (%v)", err)
	}
}

func TestTemplateMatcher_ObstructionSideEffectFree(t *testing.T) {
	m := newTemplateMatcherForTest(t, InDirectionRight)

	frame := newTestGray(240, 320, 220)
	defer frame.Close()
	before := frame.Clone()
	defer before.Close()

	if _, err := m.IsFrameObstructed(frame); err != nil {
		t.Fatalf("probe failed: %v", err)
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(frame, before, &diff)
	if gocv.CountNonZero(diff) != 0 {
		t.Error("obstruction probe modified the frame")
	}
}

func TestTemplateMatcher_ObstructionEmptyFrame(t *testing.T) {
	m := newTemplateMatcherForTest(t, InDirectionRight)

	empty := gocv.NewMat()
	defer empty.Close()

	if _, err := m.IsFrameObstructed(empty); err == nil {
		t.Error("probing an empty frame should error")
	}
}
