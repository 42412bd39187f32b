package catcierge

import (
	"fmt"
	"image"
	"image/color"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/catcierge/catcierge-go/internal/imaging"
)

// PreyMethod selects how the prey-contour analysis is performed.
type PreyMethod int

const (
	// PreyMethodAdaptive combines a global and an adaptive threshold.
	// It finds prey parts that blend into the background, such as a
	// mouse tail fading out during a global threshold.
	PreyMethodAdaptive PreyMethod = iota

	// PreyMethodNormal uses a single global threshold, with an optional
	// secondary erode/open pass controlled by PreySteps.
	PreyMethodNormal
)

func (p PreyMethod) String() string {
	if p == PreyMethodNormal {
		return "normal"
	}
	return "adaptive"
}

// ParsePreyMethod parses "adaptive" or "normal".
func ParsePreyMethod(s string) (PreyMethod, error) {
	switch s {
	case "adaptive":
		return PreyMethodAdaptive, nil
	case "normal":
		return PreyMethodNormal, nil
	}
	return PreyMethodAdaptive, fmt.Errorf("invalid prey method %q, must be \"adaptive\" or \"normal\"", s)
}

// HaarMatcherConfig configures the cascade matcher.
type HaarMatcherConfig struct {
	// Cascade is the path of the xml generated by opencv_traincascade.
	Cascade string

	// MinWidth and MinHeight bound the smallest head detection.
	MinWidth  int
	MinHeight int

	// EqHistogram equalizes the frame histogram before detection.
	EqHistogram bool

	// NoMatchIsFail makes a head-less frame count as a failure. The
	// default is to only treat found prey as a failure.
	NoMatchIsFail bool

	PreyMethod PreyMethod

	// PreySteps enables the secondary search pass for the normal prey
	// method. Valid values are 1 and 2.
	PreySteps int

	InDirection InDirection

	ObstructionLevel float64
}

// Scores reported by the cascade matcher. Any value above zero counts
// as a success; the distinct constants tell the types of success apart.
const (
	haarScoreNoHead = 0.999
	haarScoreClean  = 1.0
	haarScoreFail   = 0.0
)

// HaarMatcher detects a cat head with a cascade classifier and then
// analyses the region below it for prey contours.
type HaarMatcher struct {
	cfg     HaarMatcherConfig
	cascade gocv.CascadeClassifier
	log     *zap.SugaredLogger

	kernel2x2 gocv.Mat
	kernel3x3 gocv.Mat
	kernel5x1 gocv.Mat
}

// NewHaarMatcher loads the cascade and allocates the morphology
// kernels used by the prey analysis.
func NewHaarMatcher(cfg HaarMatcherConfig, log *zap.SugaredLogger) (*HaarMatcher, error) {
	if cfg.Cascade == "" {
		return nil, fmt.Errorf("no cascade xml configured")
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = 80
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = 80
	}
	if cfg.PreySteps <= 0 {
		cfg.PreySteps = 2
	}
	if cfg.ObstructionLevel <= 0 {
		cfg.ObstructionLevel = defaultObstructionLevel
	}

	m := &HaarMatcher{
		cfg:     cfg,
		cascade: gocv.NewCascadeClassifier(),
		log:     log,
	}

	if !m.cascade.Load(cfg.Cascade) {
		m.cascade.Close()
		return nil, fmt.Errorf("failed to load cascade %s", cfg.Cascade)
	}

	m.kernel2x2 = gocv.GetStructuringElement(gocv.MorphRect, image.Pt(2, 2))
	m.kernel3x3 = gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	m.kernel5x1 = gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 1))

	return m, nil
}

// Kind implements Matcher.
func (m *HaarMatcher) Kind() MatcherKind {
	return MatcherHaar
}

// Close releases the cascade and the kernels.
func (m *HaarMatcher) Close() error {
	m.cascade.Close()
	m.kernel2x2.Close()
	m.kernel3x3.Close()
	m.kernel5x1.Close()
	return nil
}

// Match implements Matcher.
//
// A frame without a head detection is still a success (score 0.999)
// unless NoMatchIsFail is set: the cat may simply be too close to the
// camera. When a head is found, the region below it is thresholded and
// searched for prey contours; found prey fails the frame with score 0.
// Prey detection is skipped entirely when the cat is heading out.
func (m *HaarMatcher) Match(frame gocv.Mat, saveSteps bool) MatchResult {
	res := MatchResult{Direction: DirUnknown}

	gray, grayOwned := imaging.EnsureGray(frame)
	if grayOwned {
		defer gray.Close()
	}
	res.AddStep(saveSteps, gray, "gray", "Grayscale version of the frame")

	eq := gray
	if m.cfg.EqHistogram {
		eq = gocv.NewMat()
		defer eq.Close()
		gocv.EqualizeHist(gray, &eq)
		res.AddStep(saveSteps, eq, "eqhist", "Histogram equalized frame")
	}

	rects := m.cascade.DetectMultiScaleWithParams(eq,
		1.1, 3, 0,
		image.Pt(m.cfg.MinWidth, m.cfg.MinHeight), image.Pt(0, 0))

	for _, r := range rects {
		res.AddRect(r)
	}

	if len(rects) == 0 {
		if m.cfg.NoMatchIsFail {
			res.Result = haarScoreFail
			res.Description = "No head found"
		} else {
			res.Result = haarScoreNoHead
			res.Success = true
			res.Description = "No head found, ok anyway"
		}
		return res
	}

	// Only the first detection is used. Restrict the region of
	// interest to the lower half, extended towards the outside so big
	// prey still gets some background on each side.
	roi := m.calculateROI(rects[0], eq.Cols(), eq.Rows())

	roiImg := eq.Region(roi)
	defer roiImg.Close()
	res.AddStep(saveSteps, roiImg, "roi", "Lower half of the head detection")

	inverted := m.cfg.PreyMethod == PreyMethodAdaptive
	flags := gocv.ThresholdBinary | gocv.ThresholdOtsu
	if inverted {
		flags = gocv.ThresholdBinaryInv | gocv.ThresholdOtsu
	}

	thr := gocv.NewMat()
	defer thr.Close()
	gocv.Threshold(roiImg, &thr, 0, 255, flags)
	res.AddStep(saveSteps, thr, "threshold", "Global Otsu threshold of the region")

	res.Direction = m.guessDirection(thr, inverted)

	// Don't bother looking for prey when the cat is going outside.
	if res.Direction == DirOut {
		res.Result = haarScoreClean
		res.Success = true
		res.Description = "Going out, prey detection skipped"
		return res
	}

	var prey bool
	if m.cfg.PreyMethod == PreyMethodAdaptive {
		prey = m.findPreyAdaptive(roiImg, thr, saveSteps, &res)
	} else {
		prey = m.findPrey(thr, saveSteps, &res)
	}

	if prey {
		res.Result = haarScoreFail
		res.Description = "Prey detected"
	} else {
		res.Result = haarScoreClean
		res.Success = true
		res.Description = "Everything OK!"
	}

	return res
}

// calculateROI limits the detection rect to the lower half where prey
// would hang, extended 30 px towards the outside of the door.
func (m *HaarMatcher) calculateROI(head image.Rectangle, w, h int) image.Rectangle {
	roi := head
	roi.Min.Y += head.Dy() / 2

	if m.cfg.InDirection == InDirectionRight {
		roi.Min.X -= 30
	} else {
		roi.Max.X += 30
	}

	return imaging.ClampRect(roi, w, h)
}

// guessDirection compares the pixel mass of the outermost columns of
// the thresholded region. The heavier side is taken as the direction of
// motion and mapped through the in-direction; for an inverted threshold
// the verdict is flipped.
func (m *HaarMatcher) guessDirection(thr gocv.Mat, inverted bool) Direction {
	left, right := imaging.EdgeColumnSums(thr)

	diff := left - right
	if diff < 0 {
		diff = -diff
	}
	if diff <= 25 {
		return DirUnknown
	}

	var dir Direction
	if right > left {
		// Going right.
		if m.cfg.InDirection == InDirectionRight {
			dir = DirIn
		} else {
			dir = DirOut
		}
	} else {
		// Going left.
		if m.cfg.InDirection == InDirectionLeft {
			dir = DirIn
		} else {
			dir = DirOut
		}
	}

	if inverted {
		if dir == DirIn {
			return DirOut
		}
		return DirIn
	}
	return dir
}

// findPreyAdaptive expects an inverted globally thresholded region
// containing the rough cat profile. An inverted adaptive threshold is
// added on top to bring out small details, the sum is cleaned up with
// morphology and the remaining contours are counted.
func (m *HaarMatcher) findPreyAdaptive(roiImg, invThr gocv.Mat, saveSteps bool, res *MatchResult) bool {
	adp := gocv.NewMat()
	defer adp.Close()
	gocv.AdaptiveThreshold(roiImg, &adp, 255,
		gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinaryInv, 11, 5)
	res.AddStep(saveSteps, adp, "adp_threshold", "Inverted adaptive threshold")

	combined := gocv.NewMat()
	defer combined.Close()
	gocv.Add(invThr, adp, &combined)
	res.AddStep(saveSteps, combined, "combined", "Sum of global and adaptive thresholds")

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyExWithParams(combined, &opened, gocv.MorphOpen,
		m.kernel2x2, 2, gocv.BorderConstant)
	res.AddStep(saveSteps, opened, "opened", "Opened to get rid of noise")

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.DilateWithParams(opened, &dilated, m.kernel3x3,
		image.Pt(-1, -1), 3, gocv.BorderConstant, colorScalarZero)

	gocv.BitwiseNot(dilated, &dilated)
	res.AddStep(saveSteps, dilated, "dilated", "Dilated and inverted back")

	return imaging.CountContours(dilated, preyMinContourArea) > 1
}

// findPrey counts contours in the thresholded region directly. When
// exactly one contour is found and a second step is allowed, the region
// is eroded and opened to split a prey silhouette off the cat profile.
func (m *HaarMatcher) findPrey(thr gocv.Mat, saveSteps bool, res *MatchResult) bool {
	count := imaging.CountContours(thr, preyMinContourArea)

	if m.cfg.PreySteps >= 2 && count == 1 {
		eroded := gocv.NewMat()
		defer eroded.Close()
		gocv.ErodeWithParams(thr, &eroded, m.kernel3x3, image.Pt(-1, -1),
			3, int(gocv.BorderConstant))
		res.AddStep(saveSteps, eroded, "eroded", "Eroded for second prey pass")

		opened := gocv.NewMat()
		defer opened.Close()
		gocv.MorphologyExWithParams(eroded, &opened, gocv.MorphOpen,
			m.kernel5x1, 1, gocv.BorderConstant)
		res.AddStep(saveSteps, opened, "opened", "Opened for second prey pass")

		count = imaging.CountContours(opened, preyMinContourArea)
	}

	return count > 1
}

// preyMinContourArea filters out contour specks left by thresholding.
const preyMinContourArea = 10.0

var colorScalarZero = color.RGBA{}

// IsFrameObstructed implements Matcher with the same center-band
// darkness probe as the template matcher.
func (m *HaarMatcher) IsFrameObstructed(frame gocv.Mat) (bool, error) {
	return centerBandObstructed(frame, m.cfg.ObstructionLevel)
}
