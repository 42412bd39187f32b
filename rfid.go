package catcierge

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// rfidTagLen is the payload length of a complete tag read, such as a
// 15 digit id. The STX start byte and the terminator byte are framing
// and are not counted.
const rfidTagLen = 15

// rfidBaudRate matches the serial RFID readers shipped with the door.
const rfidBaudRate = 9600

// RFIDEvent is one completed or partial tag read, delivered to the
// controller loop over a channel so all correlator writes happen on the
// FSM thread.
type RFIDEvent struct {
	Name     string
	Path     string
	Side     Direction
	Complete bool
	Data     []byte
}

// RFIDReader reads tags from one serial port. The reader itself knows
// nothing about direction; its side is stamped on the events it emits.
type RFIDReader struct {
	Name string
	Path string

	side   Direction
	port   serial.Port
	log    *zap.SugaredLogger
	events chan<- RFIDEvent

	closeOnce sync.Once
	done      chan struct{}
}

// NewRFIDReader opens the serial port at path. The side is DirIn for
// the inner reader and DirOut for the outer one.
func NewRFIDReader(name, path string, side Direction, log *zap.SugaredLogger) (*RFIDReader, error) {
	mode := &serial.Mode{
		BaudRate: rfidBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s RFID reader on %s: %w", name, path, err)
	}

	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}

	return &RFIDReader{
		Name: name,
		Path: path,
		side: side,
		port: port,
		log:  log,
		done: make(chan struct{}),
	}, nil
}

// Start launches the background read loop. Tag events are pushed onto
// the given channel and must be drained by the controller loop.
func (r *RFIDReader) Start(events chan<- RFIDEvent) {
	r.events = events
	go r.readLoop()
}

// Close stops the read loop and releases the port.
func (r *RFIDReader) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.port.Close()
	})
}

// readLoop frames the byte stream into tag reads. A read is complete
// when the full tag payload arrived before the frame terminator; a
// terminator or an idle gap with a shorter buffer flushes a partial
// read instead.
func (r *RFIDReader) readLoop() {
	buf := make([]byte, 64)
	var frame []byte

	flush := func(complete bool) {
		if len(frame) == 0 {
			return
		}
		data := make([]byte, len(frame))
		copy(data, frame)
		frame = frame[:0]

		select {
		case r.events <- RFIDEvent{
			Name:     r.Name,
			Path:     r.Path,
			Side:     r.side,
			Complete: complete,
			Data:     data,
		}:
		case <-r.done:
		}
	}

	for {
		select {
		case <-r.done:
			return
		default:
		}

		n, err := r.port.Read(buf)
		if err != nil {
			select {
			case <-r.done:
			default:
				r.log.Errorw("RFID read failed", "reader", r.Name, "error", err)
			}
			flush(false)
			return
		}

		if n == 0 {
			// Idle gap; whatever we buffered is all we will get.
			flush(false)
			continue
		}

		for _, b := range buf[:n] {
			switch b {
			case 0x02: // STX starts a new frame.
				flush(false)
			case 0x03, '\r', '\n': // Frame terminator.
				flush(len(frame) >= rfidTagLen)
			default:
				frame = append(frame, b)
				if len(frame) >= rfidTagLen {
					flush(true)
				}
			}
		}
	}
}

// RFIDMatch is the per-side correlator state.
type RFIDMatch struct {
	Triggered bool
	Complete  bool
	Data      []byte
	IsAllowed bool
}

// RFIDContext correlates the two readers into a directional verdict and
// an allow-list check. All methods must be called from the controller
// loop; the readers only touch it through marshalled events.
type RFIDContext struct {
	In  RFIDMatch
	Out RFIDMatch

	InConfigured  bool
	OutConfigured bool

	// Direction is set by the later-triggering side: the cat travels
	// from the first reader towards the second.
	Direction Direction

	Allowed []string
}

// Reset clears both sides and the inferred direction. Called on reader
// init and after each KeepOpen episode completes.
func (c *RFIDContext) Reset() {
	c.In = RFIDMatch{}
	c.Out = RFIDMatch{}
	c.Direction = DirUnknown
}

// Observe folds one reader event into the correlator. It reports
// whether the event triggered its side for the first time, which is
// when the rfid_detect event fires.
//
// A complete read longer than what the receiving side already stored
// supersedes it: late-arriving longer completions replace earlier
// truncations. The comparison is against the receiving side's own
// stored length, never the other side's.
func (c *RFIDContext) Observe(ev RFIDEvent) bool {
	cur, other := c.sides(ev.Side)

	if ev.Complete && len(ev.Data) > len(cur.Data) {
		cur.Data = append([]byte(nil), ev.Data...)
		cur.Complete = true
		cur.IsAllowed = c.allowed(cur.Data)
	}

	// First read wins for triggering.
	if cur.Triggered {
		return false
	}

	// The other reader triggered first, so we know the direction.
	if other.Triggered {
		c.Direction = ev.Side
	}

	cur.Triggered = true
	cur.Complete = ev.Complete
	cur.Data = append([]byte(nil), ev.Data...)
	cur.IsAllowed = c.allowed(cur.Data)

	return true
}

// ShouldLockout evaluates the allow-list verdict. With both readers
// configured a single allowed read on either side is enough.
func (c *RFIDContext) ShouldLockout() bool {
	switch {
	case c.InConfigured && c.OutConfigured:
		return !(c.In.IsAllowed || c.Out.IsAllowed)
	case c.InConfigured:
		return !c.In.IsAllowed
	case c.OutConfigured:
		return !c.Out.IsAllowed
	}
	return false
}

// AnyConfigured reports whether at least one reader is in use.
func (c *RFIDContext) AnyConfigured() bool {
	return c.InConfigured || c.OutConfigured
}

func (c *RFIDContext) sides(side Direction) (cur, other *RFIDMatch) {
	if side == DirIn {
		return &c.In, &c.Out
	}
	return &c.Out, &c.In
}

func (c *RFIDContext) allowed(data []byte) bool {
	for _, tag := range c.Allowed {
		if bytes.Equal(data, []byte(tag)) {
			return true
		}
	}
	return false
}
