package catcierge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/catcierge/catcierge-go/output"
)

// Resolve implements output.Resolver with the full run-time variable
// vocabulary: machine state, per-match fields, group aggregates, the
// configuration snapshot, version metadata and formatted times.
func (c *Controller) Resolve(name string) (string, error) {
	switch name {
	case "state":
		return c.state.String(), nil
	case "prev_state":
		return c.prevState.String(), nil
	case "matcher":
		return c.matcher.Kind().String(), nil

	case "matchtime":
		return formatFloat(c.cfg.MatchTime), nil
	case "ok_matches_needed":
		return strconv.Itoa(c.cfg.OKMatchesNeeded), nil
	case "lockout_method":
		return strconv.Itoa(int(c.cfg.LockoutMethod)), nil
	case "lockout_time":
		return formatFloat(c.cfg.LockoutTime), nil
	case "lockout_error":
		return strconv.Itoa(c.cfg.MaxConsecutiveLockoutCount), nil
	case "lockout_error_delay":
		return fmt.Sprintf("%0.2f", c.cfg.ConsecutiveLockoutDelay), nil
	case "output_path":
		return c.cfg.OutputPath, nil

	case "match_success":
		return boolArg(c.group.Success), nil
	case "match_count":
		return strconv.Itoa(c.group.MatchCount), nil
	case "match_success_count":
		return strconv.Itoa(c.group.SuccessCount), nil
	case "match_direction":
		return c.group.Direction.String(), nil
	case "match_score_mean":
		mean, _, _ := c.group.ScoreStats()
		return formatFloat(mean), nil
	case "match_score_min":
		_, lo, _ := c.group.ScoreStats()
		return formatFloat(lo), nil
	case "match_score_max":
		_, _, hi := c.group.ScoreStats()
		return formatFloat(hi), nil

	case "rfid_direction":
		return c.rfid.Direction.String(), nil
	case "rfid_in_data":
		return string(c.rfid.In.Data), nil
	case "rfid_out_data":
		return string(c.rfid.Out.Data), nil
	case "rfid_in_allowed":
		return boolArg(c.rfid.In.IsAllowed), nil
	case "rfid_out_allowed":
		return boolArg(c.rfid.Out.IsAllowed), nil

	case "version":
		return Version, nil
	case "git_hash", "git_commit":
		return GitHash, nil
	case "git_hash_short", "git_commit_short":
		return gitHashShort(), nil
	case "git_tainted":
		return GitTainted, nil
	}

	if strings.HasPrefix(name, "template_path") {
		if c.out == nil {
			return "", fmt.Errorf("no output templates loaded")
		}
		sub := strings.TrimPrefix(name, "template_path")
		sub = strings.TrimPrefix(sub, ":")
		return c.out.GeneratedPath(sub)
	}

	// Current time: time or time:<fmt> with @-escaped directives.
	if name == "time" || strings.HasPrefix(name, "time:") {
		format := output.DefaultTimeFormat
		if rest := strings.TrimPrefix(name, "time"); strings.HasPrefix(rest, ":") {
			format = rest[1:]
		}
		return output.FormatTime(format, c.now()), nil
	}

	if strings.HasPrefix(name, "match") {
		return c.resolveMatchVar(name)
	}

	return "", fmt.Errorf("no such variable")
}

// resolveMatchVar handles match#_... and matchcur_... variables. An
// index beyond the current match count renders as an empty string so
// templates can be generated mid-group.
func (c *Controller) resolveMatchVar(name string) (string, error) {
	var idx int
	var sub string

	if strings.HasPrefix(name, "matchcur_") {
		idx = c.group.MatchCount - 1
		sub = strings.TrimPrefix(name, "matchcur_")
	} else {
		var err error
		idx, sub, err = splitIndexed(strings.TrimPrefix(name, "match"))
		if err != nil {
			return "", err
		}
		idx-- // 1-based in templates.
	}

	if idx < 0 || idx >= MatchMaxCount {
		return "", fmt.Errorf("match index out of range")
	}
	if idx >= c.group.MatchCount {
		return "", nil
	}

	m := &c.group.Matches[idx]

	switch {
	case sub == "path":
		return m.Path, nil
	case sub == "id":
		return m.ID, nil
	case sub == "success":
		return boolArg(m.Result.Success), nil
	case sub == "direction":
		return m.Result.Direction.String(), nil
	case sub == "desc" || sub == "description":
		return m.Result.Description, nil
	case sub == "result":
		return fmt.Sprintf("%f", m.Result.Result), nil
	case sub == "step_count":
		return strconv.Itoa(len(m.Result.Steps)), nil
	case sub == "time" || strings.HasPrefix(sub, "time:"):
		format := output.DefaultTimeFormat
		if rest := strings.TrimPrefix(sub, "time"); strings.HasPrefix(rest, ":") {
			format = rest[1:]
		}
		return output.FormatTime(format, m.Time), nil
	case strings.HasPrefix(sub, "step"):
		return resolveStepVar(m, strings.TrimPrefix(sub, "step"))
	}

	return "", fmt.Errorf("no such match variable")
}

func resolveStepVar(m *MatchState, rest string) (string, error) {
	idx, sub, err := splitIndexed(rest)
	if err != nil {
		return "", err
	}
	idx--

	if idx < 0 || idx >= MaxSteps {
		return "", fmt.Errorf("step index out of range")
	}
	if idx >= len(m.Result.Steps) {
		return "", nil
	}

	step := &m.Result.Steps[idx]
	switch sub {
	case "path":
		return step.Path, nil
	case "name":
		return step.Name, nil
	case "desc", "description":
		return step.Description, nil
	case "active":
		return boolArg(step.Img != nil), nil
	}
	return "", fmt.Errorf("no such step variable")
}

// splitIndexed parses "<digits>_<rest>" as used by match#_ and step#_
// variables.
func splitIndexed(s string) (int, string, error) {
	under := strings.IndexByte(s, '_')
	if under <= 0 {
		return 0, "", fmt.Errorf("missing index")
	}
	idx, err := strconv.Atoi(s[:under])
	if err != nil {
		return 0, "", fmt.Errorf("bad index %q: %w", s[:under], err)
	}
	return idx, s[under+1:], nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
