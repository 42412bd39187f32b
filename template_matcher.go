package catcierge

import (
	"fmt"
	"image"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/catcierge/catcierge-go/internal/imaging"
)

// TemplateMatcherConfig configures the snout correlation matcher.
type TemplateMatcherConfig struct {
	// Snouts are the paths of the reference snout images.
	Snouts []string

	// MatchThreshold is the success cutoff for the best correlation.
	MatchThreshold float64

	// InDirection maps the horizontal match position to IN or OUT.
	InDirection InDirection

	// ObstructionLevel is the mean center-band intensity below which a
	// frame counts as obstructed. The backlit frame is bright until a
	// silhouette blocks it.
	ObstructionLevel float64
}

// TemplateMatcher slides every snout template over the frame and
// reports the maximum normalized correlation.
type TemplateMatcher struct {
	cfg    TemplateMatcherConfig
	snouts []gocv.Mat
	log    *zap.SugaredLogger
}

// NewTemplateMatcher loads the configured snout templates. All
// templates are converted to grayscale at load time.
func NewTemplateMatcher(cfg TemplateMatcherConfig, log *zap.SugaredLogger) (*TemplateMatcher, error) {
	if len(cfg.Snouts) == 0 {
		return nil, fmt.Errorf("no snout templates configured")
	}
	if cfg.ObstructionLevel <= 0 {
		cfg.ObstructionLevel = defaultObstructionLevel
	}

	m := &TemplateMatcher{cfg: cfg, log: log}

	for _, path := range cfg.Snouts {
		snout := gocv.IMRead(path, gocv.IMReadGrayScale)
		if snout.Empty() {
			m.Close()
			return nil, fmt.Errorf("failed to load snout template %s", path)
		}
		m.snouts = append(m.snouts, snout)
	}

	return m, nil
}

// Kind implements Matcher.
func (m *TemplateMatcher) Kind() MatcherKind {
	return MatcherTemplate
}

// Close releases the loaded templates.
func (m *TemplateMatcher) Close() error {
	for i := range m.snouts {
		m.snouts[i].Close()
	}
	m.snouts = nil
	return nil
}

// Match implements Matcher. The verdict score is the best normalized
// correlation coefficient over all templates; ties keep the first
// template.
func (m *TemplateMatcher) Match(frame gocv.Mat, saveSteps bool) MatchResult {
	res := MatchResult{Direction: DirUnknown}

	gray, owned := imaging.EnsureGray(frame)
	if owned {
		defer gray.Close()
	}
	res.AddStep(saveSteps, gray, "gray", "Grayscale version of the frame")

	best := -1.0
	bestCenter := -1

	for i := range m.snouts {
		snout := m.snouts[i]
		if snout.Cols() > gray.Cols() || snout.Rows() > gray.Rows() {
			m.log.Errorw("snout template larger than frame",
				"template", m.cfg.Snouts[i])
			res.Result = -1.0
			res.Description = "template larger than frame"
			return res
		}

		matched := gocv.NewMat()
		mask := gocv.NewMat()
		gocv.MatchTemplate(gray, snout, &matched, gocv.TmCcoeffNormed, mask)
		mask.Close()

		_, maxVal, _, maxLoc := gocv.MinMaxLoc(matched)
		matched.Close()

		rect := image.Rect(maxLoc.X, maxLoc.Y,
			maxLoc.X+snout.Cols(), maxLoc.Y+snout.Rows())
		res.AddRect(rect)

		// Strictly greater keeps the first template on ties.
		if float64(maxVal) > best {
			best = float64(maxVal)
			bestCenter = maxLoc.X + snout.Cols()/2
		}
	}

	res.Result = best
	res.Success = best >= m.cfg.MatchThreshold
	res.Direction = m.directionOf(bestCenter, gray.Cols())

	if res.Success {
		res.Description = "Everything OK!"
	} else {
		res.Description = "Match score below threshold"
	}

	return res
}

// directionOf maps the horizontal position of the best match against
// the configured in-direction. A head on the inside half of the frame
// is on its way in.
func (m *TemplateMatcher) directionOf(centerX, width int) Direction {
	if centerX < 0 || centerX == width/2 {
		return DirUnknown
	}

	onRight := centerX > width/2
	if onRight == (m.cfg.InDirection == InDirectionRight) {
		return DirIn
	}
	return DirOut
}

// IsFrameObstructed implements Matcher with the center-band darkness
// probe: the door backlight keeps the middle of the frame bright until
// an animal steps in front of it.
func (m *TemplateMatcher) IsFrameObstructed(frame gocv.Mat) (bool, error) {
	return centerBandObstructed(frame, m.cfg.ObstructionLevel)
}

// defaultObstructionLevel is the mean intensity cutoff under which the
// backlight is considered blocked.
const defaultObstructionLevel = 100.0

func centerBandObstructed(frame gocv.Mat, level float64) (bool, error) {
	if frame.Empty() {
		return false, fmt.Errorf("cannot probe an empty frame")
	}

	gray, owned := imaging.EnsureGray(frame)
	if owned {
		defer gray.Close()
	}

	return imaging.CenterMean(gray) < level, nil
}
