package catcierge

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// LockoutMethod selects how the Lockout state ends.
type LockoutMethod int

const (
	// LockoutObstructOrTimer ends the lockout as soon as the frame
	// clears or the timer elapses, whichever comes first.
	LockoutObstructOrTimer LockoutMethod = 1

	// LockoutObstructThenTimer waits for the frame to clear first and
	// only then runs the timer to its full duration.
	LockoutObstructThenTimer LockoutMethod = 2

	// LockoutTimerOnly ends the lockout on timeout alone.
	LockoutTimerOnly LockoutMethod = 3
)

// Config is the full option surface of the daemon.
type Config struct {
	// Matcher selects the strategy: "template" or "haar".
	Matcher string

	// MatchThreshold is the template matcher success cutoff.
	MatchThreshold float64

	// OKMatchesNeeded is how many of the four frames must succeed for
	// an IN-bound group to unlock the door.
	OKMatchesNeeded int

	// MatchTime is the KeepOpen rematch duration in seconds.
	MatchTime float64

	LockoutTime                float64
	LockoutMethod              LockoutMethod
	LockoutDummy               bool
	MaxConsecutiveLockoutCount int
	ConsecutiveLockoutDelay    float64

	SaveImg        bool
	SaveSteps      bool
	HighlightMatch bool
	Show           bool
	OutputPath     string

	// Template matcher options.
	Snouts []string

	// Haar matcher options.
	Cascade       string
	MinWidth      int
	MinHeight     int
	EqHistogram   bool
	NoMatchIsFail bool
	PreyMethod    PreyMethod
	PreySteps     int

	InDirection InDirection

	// ObstructionLevel is the center-band intensity cutoff shared by
	// both matchers' obstruction probes.
	ObstructionLevel float64

	// RFID options.
	RFIDInnerPath     string
	RFIDOuterPath     string
	RFIDAllowed       []string
	RFIDLockTime      float64
	LockOnInvalidRFID bool

	// Event command templates, keyed by event name.
	EventCmds map[string]string

	// NewExecute renders event commands through the %var% template
	// language instead of positional %0..%N substitution.
	NewExecute bool

	// TemplatePaths are output-file templates to load at startup.
	TemplatePaths []string

	// Hardware and host options.
	DoorPin      string
	BacklightPin string
	Chuid        string
	CameraID     int
	Input        string
	LogPath      string
}

// DefaultConfig mirrors the defaults of the original door controller.
func DefaultConfig() *Config {
	return &Config{
		Matcher:         "template",
		MatchThreshold:  0.8,
		OKMatchesNeeded: 2,
		MatchTime:       30,

		LockoutTime:             30,
		LockoutMethod:           LockoutObstructThenTimer,
		ConsecutiveLockoutDelay: 3,

		OutputPath: ".",

		MinWidth:    80,
		MinHeight:   80,
		PreyMethod:  PreyMethodAdaptive,
		PreySteps:   2,
		InDirection: InDirectionRight,

		ObstructionLevel: defaultObstructionLevel,

		RFIDLockTime: 5,

		EventCmds: map[string]string{},

		DoorPin:      "GPIO4",
		BacklightPin: "GPIO18",
	}
}

// LoadFile merges an ini config file over the current values.
func (c *Config) LoadFile(path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}

	s := f.Section("")

	read := func(key string, set func(*ini.Key)) {
		if s.HasKey(key) {
			set(s.Key(key))
		}
	}

	read("matcher", func(k *ini.Key) { c.Matcher = k.String() })
	read("match_threshold", func(k *ini.Key) { c.MatchThreshold = k.MustFloat64(c.MatchThreshold) })
	read("ok_matches_needed", func(k *ini.Key) { c.OKMatchesNeeded = k.MustInt(c.OKMatchesNeeded) })
	read("match_time", func(k *ini.Key) { c.MatchTime = k.MustFloat64(c.MatchTime) })

	read("lockout_time", func(k *ini.Key) { c.LockoutTime = k.MustFloat64(c.LockoutTime) })
	read("lockout_method", func(k *ini.Key) { c.LockoutMethod = LockoutMethod(k.MustInt(int(c.LockoutMethod))) })
	read("lockout_dummy", func(k *ini.Key) { c.LockoutDummy = k.MustBool(false) })
	read("max_consecutive_lockout_count", func(k *ini.Key) { c.MaxConsecutiveLockoutCount = k.MustInt(0) })
	read("consecutive_lockout_delay", func(k *ini.Key) { c.ConsecutiveLockoutDelay = k.MustFloat64(c.ConsecutiveLockoutDelay) })

	read("saveimg", func(k *ini.Key) { c.SaveImg = k.MustBool(false) })
	read("save_steps", func(k *ini.Key) { c.SaveSteps = k.MustBool(false) })
	read("highlight_match", func(k *ini.Key) { c.HighlightMatch = k.MustBool(false) })
	read("show", func(k *ini.Key) { c.Show = k.MustBool(false) })
	read("output_path", func(k *ini.Key) { c.OutputPath = k.String() })

	read("snout", func(k *ini.Key) { c.Snouts = k.Strings(",") })

	read("cascade", func(k *ini.Key) { c.Cascade = k.String() })
	read("min_size", func(k *ini.Key) {
		fmt.Sscanf(k.String(), "%dx%d", &c.MinWidth, &c.MinHeight)
	})
	read("eq_histogram", func(k *ini.Key) { c.EqHistogram = k.MustBool(false) })
	read("no_match_is_fail", func(k *ini.Key) { c.NoMatchIsFail = k.MustBool(false) })
	read("prey_method", func(k *ini.Key) {
		if m, err := ParsePreyMethod(k.String()); err == nil {
			c.PreyMethod = m
		}
	})
	read("prey_steps", func(k *ini.Key) { c.PreySteps = k.MustInt(c.PreySteps) })
	read("in_direction", func(k *ini.Key) {
		if strings.EqualFold(k.String(), "left") {
			c.InDirection = InDirectionLeft
		} else {
			c.InDirection = InDirectionRight
		}
	})

	read("obstruction_level", func(k *ini.Key) { c.ObstructionLevel = k.MustFloat64(c.ObstructionLevel) })

	read("rfid_inner_path", func(k *ini.Key) { c.RFIDInnerPath = k.String() })
	read("rfid_outer_path", func(k *ini.Key) { c.RFIDOuterPath = k.String() })
	read("rfid_allowed", func(k *ini.Key) { c.RFIDAllowed = k.Strings(",") })
	read("rfid_lock_time", func(k *ini.Key) { c.RFIDLockTime = k.MustFloat64(c.RFIDLockTime) })
	read("lock_on_invalid_rfid", func(k *ini.Key) { c.LockOnInvalidRFID = k.MustBool(false) })

	read("new_execute", func(k *ini.Key) { c.NewExecute = k.MustBool(false) })
	read("template", func(k *ini.Key) { c.TemplatePaths = k.Strings(",") })

	read("door_pin", func(k *ini.Key) { c.DoorPin = k.String() })
	read("backlight_pin", func(k *ini.Key) { c.BacklightPin = k.String() })
	read("chuid", func(k *ini.Key) { c.Chuid = k.String() })
	read("camera", func(k *ini.Key) { c.CameraID = k.MustInt(0) })
	read("input", func(k *ini.Key) { c.Input = k.String() })
	read("log_path", func(k *ini.Key) { c.LogPath = k.String() })

	for _, ev := range EventNames {
		key := ev + "_cmd"
		if s.HasKey(key) {
			c.EventCmds[ev] = s.Key(key).String()
		}
	}

	return nil
}

// Validate checks option ranges and cross-option requirements.
func (c *Config) Validate() error {
	switch c.Matcher {
	case "template":
		if len(c.Snouts) == 0 {
			return fmt.Errorf("template matcher needs at least one snout image")
		}
	case "haar":
		if c.Cascade == "" {
			return fmt.Errorf("haar matcher needs a cascade xml")
		}
	default:
		return fmt.Errorf("invalid matcher %q, must be \"template\" or \"haar\"", c.Matcher)
	}

	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("match_threshold %f out of range [0,1]", c.MatchThreshold)
	}
	if c.OKMatchesNeeded < 0 || c.OKMatchesNeeded > MatchMaxCount {
		return fmt.Errorf("ok_matches_needed %d out of range [0,%d]", c.OKMatchesNeeded, MatchMaxCount)
	}
	if c.MatchTime <= 0 {
		return fmt.Errorf("match_time must be positive")
	}
	if c.LockoutTime < 0 {
		return fmt.Errorf("lockout_time must not be negative")
	}
	if c.LockoutMethod < LockoutObstructOrTimer || c.LockoutMethod > LockoutTimerOnly {
		return fmt.Errorf("lockout_method %d out of range [1,3]", c.LockoutMethod)
	}
	if c.MaxConsecutiveLockoutCount < 0 {
		return fmt.Errorf("max_consecutive_lockout_count must not be negative")
	}
	if c.PreySteps < 1 || c.PreySteps > 2 {
		return fmt.Errorf("prey_steps %d out of range [1,2]", c.PreySteps)
	}
	if c.LockOnInvalidRFID && c.RFIDInnerPath == "" && c.RFIDOuterPath == "" {
		return fmt.Errorf("lock_on_invalid_rfid needs at least one RFID reader")
	}
	return nil
}

// TemplateConfig derives the template matcher options.
func (c *Config) TemplateConfig() TemplateMatcherConfig {
	return TemplateMatcherConfig{
		Snouts:           c.Snouts,
		MatchThreshold:   c.MatchThreshold,
		InDirection:      c.InDirection,
		ObstructionLevel: c.ObstructionLevel,
	}
}

// HaarConfig derives the cascade matcher options.
func (c *Config) HaarConfig() HaarMatcherConfig {
	return HaarMatcherConfig{
		Cascade:          c.Cascade,
		MinWidth:         c.MinWidth,
		MinHeight:        c.MinHeight,
		EqHistogram:      c.EqHistogram,
		NoMatchIsFail:    c.NoMatchIsFail,
		PreyMethod:       c.PreyMethod,
		PreySteps:        c.PreySteps,
		InDirection:      c.InDirection,
		ObstructionLevel: c.ObstructionLevel,
	}
}

// EventCommand returns the command template configured for an event,
// or "" when none is.
func (c *Config) EventCommand(event string) string {
	return c.EventCmds[event]
}
