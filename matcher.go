package catcierge

import (
	"image"

	"gocv.io/x/gocv"
)

const (
	// MatchMaxCount is the number of per-frame verdicts aggregated into
	// one open/lock decision.
	MatchMaxCount = 4

	// MaxMatchRects bounds the number of match rectangles a matcher may
	// report for a single frame.
	MaxMatchRects = 24

	// MaxSteps bounds the number of intermediate diagnostic images a
	// matcher may attach to a single verdict.
	MaxSteps = 24
)

// Direction is the inferred travel sense of the subject through the door.
type Direction int

const (
	DirUnknown Direction = iota
	DirIn
	DirOut
)

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	default:
		return "unknown"
	}
}

// InDirection names which horizontal side of the frame is "inside".
type InDirection int

const (
	InDirectionRight InDirection = iota
	InDirectionLeft
)

func (d InDirection) String() string {
	if d == InDirectionLeft {
		return "left"
	}
	return "right"
}

// MatcherKind identifies which matching strategy produced a verdict.
// The controller only uses it to pick the direction aggregation rule.
type MatcherKind int

const (
	MatcherTemplate MatcherKind = iota
	MatcherHaar
)

func (k MatcherKind) String() string {
	if k == MatcherHaar {
		return "haar"
	}
	return "template"
}

// MatchStep is an optional intermediate image from a matcher pipeline,
// kept around for diagnostics when step saving is enabled.
type MatchStep struct {
	Name        string
	Description string
	Path        string
	Img         *gocv.Mat
}

// MatchResult is a single per-frame verdict.
//
// Success is equivalent to the matcher-specific score passing its
// configured threshold. A negative Result signals a matcher error; the
// controller logs it and skips the tick.
type MatchResult struct {
	Success     bool
	Result      float64
	Direction   Direction
	Description string
	Rects       []image.Rectangle
	Steps       []MatchStep
}

// AddStep records an intermediate image. The mat is cloned so the caller
// keeps ownership of img. Steps beyond MaxSteps are dropped.
func (r *MatchResult) AddStep(save bool, img gocv.Mat, name, description string) {
	if !save || len(r.Steps) >= MaxSteps {
		return
	}
	clone := img.Clone()
	r.Steps = append(r.Steps, MatchStep{
		Name:        name,
		Description: description,
		Img:         &clone,
	})
}

// AddRect records a match rectangle, bounded by MaxMatchRects.
func (r *MatchResult) AddRect(rect image.Rectangle) {
	if len(r.Rects) >= MaxMatchRects {
		return
	}
	r.Rects = append(r.Rects, rect)
}

// Close releases any step images held by the result.
func (r *MatchResult) Close() {
	for i := range r.Steps {
		if r.Steps[i].Img != nil {
			r.Steps[i].Img.Close()
			r.Steps[i].Img = nil
		}
	}
	r.Steps = nil
}

// Matcher is the narrow capability set the controller depends on. The
// two implementations own their native OpenCV handles and share no
// state; the controller never knows which one is active.
type Matcher interface {
	// Match runs the matcher pipeline on one frame. The frame is
	// borrowed for the duration of the call and must not be retained.
	Match(frame gocv.Mat, saveSteps bool) MatchResult

	// IsFrameObstructed probes whether something blocks the backlight.
	// The probe must be side-effect-free on the frame.
	IsFrameObstructed(frame gocv.Mat) (bool, error)

	// Kind reports which strategy this matcher implements.
	Kind() MatcherKind

	// Close releases the matcher's native resources.
	Close() error
}
