package catcierge

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MatchState pairs one verdict with the captured frame clone and the
// bookkeeping needed to persist and reference it later.
type MatchState struct {
	Result MatchResult

	// Img is a clone of the matched frame, owned by the match group.
	// Nil unless image saving is enabled.
	Img *gocv.Mat

	Time    time.Time
	TimeStr string

	// ID is the hex SHA-1 over the frame pixels concatenated with
	// TimeStr. Stable across runs given identical inputs.
	ID string

	// Path is where the frame clone will be persisted. BasePath is the
	// same without extension, used to derive step image paths.
	Path     string
	BasePath string
}

// MatchGroup is the bounded window of per-frame verdicts that the
// controller turns into a single open/lock decision.
type MatchGroup struct {
	Matches    [MatchMaxCount]MatchState
	MatchCount int

	Success      bool
	SuccessCount int
	Direction    Direction
}

// Reset empties the group and releases all images it owns.
func (g *MatchGroup) Reset() {
	for i := range g.Matches {
		g.Matches[i].Result.Close()
		if g.Matches[i].Img != nil {
			g.Matches[i].Img.Close()
		}
		g.Matches[i] = MatchState{}
	}
	g.MatchCount = 0
	g.Success = false
	g.SuccessCount = 0
	g.Direction = DirUnknown
}

// ReleaseImages drops the frame clones and step images but keeps the
// verdicts, ids and paths around for template rendering.
func (g *MatchGroup) ReleaseImages() {
	for i := range g.Matches {
		g.Matches[i].Result.Close()
		if g.Matches[i].Img != nil {
			g.Matches[i].Img.Close()
			g.Matches[i].Img = nil
		}
	}
}

// Append adds one verdict to the group.
func (g *MatchGroup) Append(m MatchState) error {
	if g.MatchCount >= MatchMaxCount {
		return fmt.Errorf("match group already holds %d matches", MatchMaxCount)
	}
	g.Matches[g.MatchCount] = m
	g.MatchCount++
	return nil
}

// Full reports whether the decision window is complete.
func (g *MatchGroup) Full() bool {
	return g.MatchCount >= MatchMaxCount
}

// Current returns the most recently appended match, or nil for an
// empty group.
func (g *MatchGroup) Current() *MatchState {
	if g.MatchCount == 0 {
		return nil
	}
	return &g.Matches[g.MatchCount-1]
}

// OverallDirection infers the direction of travel for the whole group.
//
// The template matcher only reports a meaningful direction on a
// successful frame, so the last successful frame wins. The haar matcher
// reports a direction on every frame, so the frames vote: IN wins only
// when it outnumbers both OUT and UNKNOWN, otherwise OUT wins when it
// outnumbers UNKNOWN, otherwise the group is UNKNOWN. An IN/OUT tie
// therefore goes OUT, and a tie with UNKNOWN goes UNKNOWN.
func (g *MatchGroup) OverallDirection(kind MatcherKind) Direction {
	if kind == MatcherTemplate {
		dir := DirUnknown
		for i := 0; i < g.MatchCount; i++ {
			if g.Matches[i].Result.Success {
				dir = g.Matches[i].Result.Direction
			}
		}
		return dir
	}

	var in, out, unknown int
	for i := 0; i < g.MatchCount; i++ {
		switch g.Matches[i].Result.Direction {
		case DirIn:
			in++
		case DirOut:
			out++
		default:
			unknown++
		}
	}

	if in > out && in > unknown {
		return DirIn
	}
	if out > unknown {
		return DirOut
	}
	return DirUnknown
}

// Evaluate computes the aggregate decision once the group is full.
//
// A group heading OUT always succeeds: blocking an exiting cat is worse
// than admitting a false positive. Otherwise okMatchesNeeded frames
// must have succeeded individually.
func (g *MatchGroup) Evaluate(kind MatcherKind, okMatchesNeeded int) {
	g.SuccessCount = 0
	for i := 0; i < g.MatchCount; i++ {
		if g.Matches[i].Result.Success {
			g.SuccessCount++
		}
	}

	g.Direction = g.OverallDirection(kind)

	if g.Direction == DirOut {
		g.Success = true
		return
	}
	g.Success = g.SuccessCount >= okMatchesNeeded
}

// ScoreStats summarizes the per-frame scores of the group. Exposed to
// output templates and logged with the match_done event.
func (g *MatchGroup) ScoreStats() (mean, min, max float64) {
	if g.MatchCount == 0 {
		return 0, 0, 0
	}
	scores := make([]float64, g.MatchCount)
	for i := 0; i < g.MatchCount; i++ {
		scores[i] = g.Matches[i].Result.Result
	}
	return stat.Mean(scores, nil), floats.Min(scores), floats.Max(scores)
}
