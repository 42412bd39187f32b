package catcierge

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/catcierge/catcierge-go/internal/catlog"
	"github.com/catcierge/catcierge-go/output"
)

// State is one of the four decision states. The machine is closed:
// dispatch switches exhaustively over these tags.
type State int

const (
	StateWaiting State = iota
	StateMatching
	StateKeepOpen
	StateLockout
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "Waiting"
	case StateMatching:
		return "Matching"
	case StateKeepOpen:
		return "Keep open"
	case StateLockout:
		return "Lockout"
	}
	return "Initial"
}

// Lifecycle event names, fired exactly once per occurrence.
const (
	EventMatch      = "match"
	EventMatchDone  = "match_done"
	EventSaveImg    = "save_img"
	EventSaveImgs   = "save_imgs"
	EventRFIDDetect = "rfid_detect"
	EventRFIDMatch  = "rfid_match"
	EventDoLockout  = "do_lockout"
	EventDoUnlock   = "do_unlock"

	EventStateChange = "state_change"
)

// EventNames lists every dispatchable event, used by the config loader
// to pick up per-event command options.
var EventNames = []string{
	EventMatch, EventMatchDone, EventSaveImg, EventSaveImgs,
	EventRFIDDetect, EventRFIDMatch, EventDoLockout, EventDoUnlock,
	EventStateChange,
}

// Controller is the frame-driven decision engine. Each captured frame
// advances it by exactly one tick: pending RFID events are drained,
// then the current state function runs once.
//
// The controller is single-threaded; only Stop and Running are safe to
// call from other goroutines.
type Controller struct {
	cfg      *Config
	matcher  Matcher
	actuator Actuator
	out      *output.Manager
	csv      *catlog.CSVLog
	log      *zap.SugaredLogger

	state     State
	prevState State

	group MatchGroup

	lockoutTimer Timer
	rematchTimer Timer

	consecutiveLockoutCount int

	rfid       RFIDContext
	rfidEvents chan RFIDEvent

	// checkedRFIDLock latches the once-per-KeepOpen RFID verification.
	checkedRFIDLock bool

	running atomic.Bool

	// frame is the camera frame borrowed for the current tick.
	frame gocv.Mat

	now func() time.Time
}

// NewController wires the decision engine. The actuator starts in the
// unlocked position; matcher and actuator are owned by the caller.
func NewController(cfg *Config, matcher Matcher, actuator Actuator,
	out *output.Manager, csv *catlog.CSVLog, log *zap.SugaredLogger) *Controller {

	c := &Controller{
		cfg:        cfg,
		matcher:    matcher,
		actuator:   actuator,
		out:        out,
		csv:        csv,
		log:        log,
		state:      StateWaiting,
		prevState:  StateWaiting,
		rfidEvents: make(chan RFIDEvent, 16),
		now:        time.Now,
	}

	c.rfid.Allowed = cfg.RFIDAllowed
	c.rfid.InConfigured = cfg.RFIDInnerPath != ""
	c.rfid.OutConfigured = cfg.RFIDOuterPath != ""
	c.rfid.Reset()

	c.running.Store(true)
	return c
}

// RFIDEvents returns the channel the readers push into. The controller
// drains it at every tick boundary, so reader goroutines never touch
// the correlator directly.
func (c *Controller) RFIDEvents() chan<- RFIDEvent {
	return c.rfidEvents
}

// State returns the current decision state.
func (c *Controller) State() State {
	return c.state
}

// Group exposes the current match group, mainly for the preview window.
func (c *Controller) Group() *MatchGroup {
	return &c.group
}

// Running reports whether the main loop should keep ticking.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Stop requests a graceful exit: the current tick drains, then the
// main loop performs the final unlock via Shutdown.
func (c *Controller) Stop() {
	c.running.Store(false)
}

// Shutdown performs the final unlock and releases the match group.
// Safe to call once the loop has exited.
func (c *Controller) Shutdown() {
	c.doUnlock()
	c.group.Reset()
}

// Tick advances the machine by one frame. The frame is borrowed for
// the duration of the call; the controller clones it only when
// persisting a match record.
func (c *Controller) Tick(frame gocv.Mat) {
	c.drainRFID()

	c.frame = frame
	defer func() { c.frame = gocv.Mat{} }()

	switch c.state {
	case StateWaiting:
		c.stateWaiting()
	case StateMatching:
		c.stateMatching()
	case StateKeepOpen:
		c.stateKeepOpen()
	case StateLockout:
		c.stateLockout()
	}
}

// drainRFID folds every pending reader event into the correlator.
// Running on the tick boundary keeps all correlator writes on the FSM
// thread.
func (c *Controller) drainRFID() {
	for {
		select {
		case ev := <-c.rfidEvents:
			complete := ""
			if !ev.Complete {
				complete = " (incomplete)"
			}
			c.log.Infof("%s RFID: %s%s", ev.Name, ev.Data, complete)

			if c.rfid.Observe(ev) {
				if c.rfid.Direction != DirUnknown {
					c.log.Infof("%s RFID: Direction %s", ev.Name, c.rfid.Direction)
				}
				c.emit(EventRFIDDetect)
			}
		default:
			return
		}
	}
}

func (c *Controller) setState(s State) {
	c.log.Infof("[%s] -> [%s]", c.state, s)
	c.prevState = c.state
	c.state = s
	c.emit(EventStateChange)
}

// stateWaiting idles until something blocks the backlight, then starts
// a fresh match group.
func (c *Controller) stateWaiting() {
	obstructed, err := c.matcher.IsFrameObstructed(c.frame)
	if err != nil {
		c.log.Errorw("obstruction probe failed", "error", err)
		return
	}

	if obstructed {
		c.group.Reset()
		c.setState(StateMatching)
	}
}

// stateMatching collects one verdict per frame until the group is
// full, then takes the open/lock decision.
func (c *Controller) stateMatching() {
	res := c.matcher.Match(c.frame, c.cfg.SaveSteps)
	if res.Result < 0 {
		res.Close()
		c.log.Errorw("matcher error, skipping frame", "description", res.Description)
		return
	}

	m := c.processMatchResult(c.frame, res)
	if err := c.group.Append(m); err != nil {
		// Full group means a missed transition; drop the frame rather
		// than corrupt the window.
		res.Close()
		c.log.Errorw("match group overflow", "error", err)
		return
	}

	c.emit(EventMatch)

	if !c.group.Full() {
		return
	}

	c.group.Evaluate(c.matcher.Kind(), c.cfg.OKMatchesNeeded)

	mean, lo, hi := c.group.ScoreStats()
	c.log.Infow("match group complete",
		"success", c.group.Success,
		"success_count", c.group.SuccessCount,
		"direction", c.group.Direction,
		"score_mean", mean, "score_min", lo, "score_max", hi)

	if c.group.Success {
		c.doUnlock()
		// The cat may take a while to clear both RFID readers, so the
		// verification is re-armed for this KeepOpen episode.
		c.checkedRFIDLock = false
		c.rematchTimer.Reset()
		c.consecutiveLockoutCount = 0
		c.setState(StateKeepOpen)
	} else {
		c.transitionLockout()
	}

	c.emit(EventMatchDone)

	if c.cfg.SaveImg {
		c.saveImages()
	}
}

// stateKeepOpen holds the door open. Once the doorway clears, the
// rematch timer runs down; meanwhile the RFID verdict is checked once.
func (c *Controller) stateKeepOpen() {
	if !c.rematchTimer.IsActive() {
		obstructed, err := c.matcher.IsFrameObstructed(c.frame)
		if err != nil {
			c.log.Errorw("obstruction probe failed", "error", err)
			return
		}
		if obstructed {
			return
		}
		c.rematchTimer.Set(c.cfg.MatchTime)
		c.rematchTimer.Start()
		return
	}

	if c.rematchTimer.TimedOut() {
		c.rfid.Reset()
		c.setState(StateWaiting)
		return
	}

	c.checkRFIDLockout()
}

// stateLockout keeps the door closed until the configured method says
// otherwise.
func (c *Controller) stateLockout() {
	switch c.cfg.LockoutMethod {
	case LockoutObstructOrTimer:
		isClear, ok := c.frameClear()
		if !ok {
			return
		}
		if isClear || c.lockoutTimer.TimedOut() {
			c.endLockout()
		}

	case LockoutObstructThenTimer:
		if !c.lockoutTimer.IsActive() {
			isClear, ok := c.frameClear()
			if !ok {
				return
			}
			if isClear {
				c.lockoutTimer.Start()
			}
			return
		}
		if c.lockoutTimer.TimedOut() {
			c.endLockout()
		}

	case LockoutTimerOnly:
		if c.lockoutTimer.TimedOut() {
			c.endLockout()
		}
	}
}

func (c *Controller) frameClear() (isClear, ok bool) {
	obstructed, err := c.matcher.IsFrameObstructed(c.frame)
	if err != nil {
		c.log.Errorw("obstruction probe failed", "error", err)
		return false, false
	}
	return !obstructed, true
}

func (c *Controller) endLockout() {
	c.doUnlock()
	c.rfid.Reset()
	c.setState(StateWaiting)
}

// transitionLockout runs the watchdog against the previous lockout,
// arms the lockout timer per the configured method and locks the door.
func (c *Controller) transitionLockout() {
	c.checkMaxConsecutiveLockouts()

	c.lockoutTimer.Set(c.cfg.LockoutTime)
	switch c.cfg.LockoutMethod {
	case LockoutObstructThenTimer:
		// Timer starts once the doorway first clears.
		c.lockoutTimer.Reset()
	default:
		c.lockoutTimer.Start()
	}

	c.doLockout()
	c.setState(StateLockout)
}

// checkMaxConsecutiveLockouts is the safety watchdog: lockouts landing
// pathologically close together suggest a broken environment, such as
// a failed backlight matching everything as obstructed.
func (c *Controller) checkMaxConsecutiveLockouts() {
	if c.cfg.MaxConsecutiveLockoutCount == 0 {
		return
	}

	window := c.cfg.LockoutTime + c.cfg.ConsecutiveLockoutDelay
	sinceLast := c.lockoutTimer.Elapsed()

	if sinceLast <= window {
		c.consecutiveLockoutCount++
		c.log.Infof("Consecutive lockout! %d out of %d before quitting. (%.2f sec <= %.2f sec)",
			c.consecutiveLockoutCount, c.cfg.MaxConsecutiveLockoutCount,
			sinceLast, window)
	} else {
		c.consecutiveLockoutCount = 0
		c.log.Infof("Consecutive lockout count reset. %.2f seconds between lockouts",
			sinceLast)
	}

	if c.consecutiveLockoutCount >= c.cfg.MaxConsecutiveLockoutCount {
		c.log.Errorf("Too many lockouts in a row (%d)! Assuming something is wrong, aborting",
			c.consecutiveLockoutCount)
		c.doUnlock()
		c.running.Store(false)
	}
}

// checkRFIDLockout verifies the RFID verdict once per KeepOpen episode
// after the cat had time to pass both readers.
func (c *Controller) checkRFIDLockout() {
	if !c.cfg.LockOnInvalidRFID || c.checkedRFIDLock || !c.rfid.AnyConfigured() {
		return
	}
	if c.rematchTimer.Elapsed() < c.cfg.RFIDLockTime {
		return
	}

	if !c.rfid.In.Triggered && !c.rfid.Out.Triggered {
		c.log.Errorf("Unknown RFID direction!")
		c.rfid.Direction = DirUnknown
	}

	if c.rfid.ShouldLockout() {
		if c.rfid.Direction == DirOut {
			c.log.Infof("RFID lockout: skipping since cat is going out")
		} else {
			c.log.Infof("RFID lockout!")
			c.csv.RFIDCheck(false)
			c.transitionLockout()
		}
	} else {
		c.log.Infof("RFID OK!")
		c.csv.RFIDCheck(true)
	}

	c.emit(EventRFIDMatch)
	c.checkedRFIDLock = true
}

// processMatchResult stamps a verdict with time, id, output path and
// the frame clone, and writes the CSV match line.
func (c *Controller) processMatchResult(frame gocv.Mat, res MatchResult) MatchState {
	m := MatchState{Result: res}

	m.Time = c.now()
	m.TimeStr = output.FormatTime(output.MatchTimeFormat, m.Time)

	m.ID = matchID(frame, m.TimeStr)

	if res.Success {
		c.log.Infof("Match %s - %s (%s)", res.Direction, res.Description, m.ID)
	} else {
		c.log.Infof("No Match %s - %s (%s)", res.Direction, res.Description, m.ID)
	}

	if c.cfg.SaveImg {
		fail := ""
		if !res.Success {
			fail = "fail_"
		}
		base := fmt.Sprintf("match_%s%s__%d", fail, m.TimeStr, c.group.MatchCount)
		m.BasePath = filepath.Join(c.cfg.OutputPath, base)
		m.Path = m.BasePath + ".png"

		clone := frame.Clone()
		m.Img = &clone

		if c.cfg.SaveSteps {
			for i := range m.Result.Steps {
				m.Result.Steps[i].Path = fmt.Sprintf("%s_%02d_%s.png",
					m.BasePath, i, m.Result.Steps[i].Name)
			}
		}
	}

	c.csv.Match(res.Success, res.Result, c.cfg.MatchThreshold, m.Path, res.Direction.String())

	return m
}

// matchID derives the stable unique id: SHA-1 over the frame pixels
// concatenated with the formatted time string.
func matchID(frame gocv.Mat, timeStr string) string {
	h := sha1.New()
	if !frame.Empty() {
		h.Write(frame.ToBytes())
	}
	h.Write([]byte(timeStr))
	return hex.EncodeToString(h.Sum(nil))
}

// saveImages persists the match group to disk. Writing is deferred to
// after the decision so disk latency never slows down matching.
func (c *Controller) saveImages() {
	for i := 0; i < c.group.MatchCount; i++ {
		m := &c.group.Matches[i]
		if m.Img == nil {
			continue
		}

		c.log.Infof("Saving image %s", m.Path)
		if !gocv.IMWrite(m.Path, *m.Img) {
			c.log.Errorw("failed to save match image", "path", m.Path)
		}

		if c.cfg.SaveSteps {
			for j := range m.Result.Steps {
				step := &m.Result.Steps[j]
				if step.Img == nil {
					continue
				}
				if !gocv.IMWrite(step.Path, *step.Img) {
					c.log.Errorw("failed to save step image", "path", step.Path)
				}
			}
		}

		c.emit(EventSaveImg)
	}

	c.group.ReleaseImages()
	c.emit(EventSaveImgs)
}

// doLockout closes the door, preferring a configured command over the
// GPIO backend. The dummy mode only logs, for bench setups without an
// actuator.
func (c *Controller) doLockout() {
	if c.cfg.LockoutDummy {
		c.log.Infof("!LOCKOUT DUMMY!")
		return
	}

	if cmd := c.cfg.EventCommand(EventDoLockout); cmd != "" {
		c.execute(EventDoLockout, cmd)
		return
	}

	if err := c.actuator.Lock(); err != nil {
		c.log.Errorw("failed to lock door", "error", err)
	}
}

func (c *Controller) doUnlock() {
	if cmd := c.cfg.EventCommand(EventDoUnlock); cmd != "" {
		c.execute(EventDoUnlock, cmd)
		return
	}

	if err := c.actuator.Unlock(); err != nil {
		c.log.Errorw("failed to unlock door", "error", err)
	}
}

// emit renders the output templates registered to the event and runs
// the configured command, if any.
func (c *Controller) emit(event string) {
	if c.out == nil {
		return
	}

	cmd := c.cfg.EventCommand(event)
	if cmd != "" && c.cfg.NewExecute {
		// Execute generates the templates before running the command.
		c.out.Execute(c, event, cmd)
		return
	}

	if err := c.out.GenerateForEvent(c, event); err != nil {
		c.log.Errorw("failed to generate templates", "event", event, "error", err)
	}

	if cmd != "" {
		c.out.ExecuteArgs(event, cmd, c.legacyArgs(event)...)
	}
}

func (c *Controller) execute(event, cmd string) {
	if c.cfg.NewExecute {
		c.out.Execute(c, event, cmd)
	} else {
		c.out.ExecuteArgs(event, cmd, c.legacyArgs(event)...)
	}
}

// legacyArgs builds the positional %0..%N vocabulary of the
// pre-template command style for each event.
func (c *Controller) legacyArgs(event string) []string {
	cur := c.group.Current()

	switch event {
	case EventMatch, EventSaveImg:
		if cur == nil {
			return nil
		}
		return []string{
			fmt.Sprintf("%f", cur.Result.Result),
			boolArg(cur.Result.Success),
			cur.Path,
			cur.Result.Direction.String(),
		}
	case EventSaveImgs, EventMatchDone:
		args := []string{boolArg(c.group.Success)}
		for i := 0; i < MatchMaxCount; i++ {
			args = append(args, c.group.Matches[i].Path)
		}
		for i := 0; i < MatchMaxCount; i++ {
			args = append(args, fmt.Sprintf("%f", c.group.Matches[i].Result.Result))
		}
		for i := 0; i < MatchMaxCount; i++ {
			args = append(args, c.group.Matches[i].Result.Direction.String())
		}
		return append(args, c.group.Direction.String())
	case EventRFIDMatch:
		return []string{
			boolArg(!c.rfid.ShouldLockout()),
			boolArg(c.rfid.InConfigured),
			boolArg(c.rfid.OutConfigured),
			boolArg(c.rfid.In.IsAllowed),
			boolArg(c.rfid.Out.IsAllowed),
			string(c.rfid.In.Data),
			string(c.rfid.Out.Data),
		}
	case EventRFIDDetect:
		return []string{
			boolArg(c.rfid.In.Triggered),
			boolArg(c.rfid.Out.Triggered),
			string(c.rfid.In.Data),
			string(c.rfid.Out.Data),
			c.rfid.Direction.String(),
		}
	}
	return nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
