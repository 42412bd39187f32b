package catcierge

import (
	"fmt"
	"os/user"
	"strconv"
	"syscall"

	"go.uber.org/zap"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// Actuator abstracts the door lock hardware. The GPIO backend is the
// real one; tests substitute a recording fake, and a dummy wrapper
// turns locking into a no-op for bench runs without an actuator.
type Actuator interface {
	// Lock closes the door. The backlight stays on so the camera keeps
	// seeing the silhouette.
	Lock() error

	// Unlock opens the door, backlight still on.
	Unlock() error

	// Close releases the hardware and leaves the door open.
	Close()
}

// GPIOActuator drives the door solenoid and the backlight directly.
type GPIOActuator struct {
	door      gpio.PinIO
	backlight gpio.PinIO
	log       *zap.SugaredLogger
}

// NewGPIOActuator initializes the periph host, resolves the two pins
// and starts with the door open and the light on.
func NewGPIOActuator(doorPin, backlightPin string, log *zap.SugaredLogger) (*GPIOActuator, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize GPIO host: %w", err)
	}

	door := gpioreg.ByName(doorPin)
	if door == nil {
		return nil, fmt.Errorf("no GPIO pin named %q", doorPin)
	}

	backlight := gpioreg.ByName(backlightPin)
	if backlight == nil {
		return nil, fmt.Errorf("no GPIO pin named %q", backlightPin)
	}

	a := &GPIOActuator{door: door, backlight: backlight, log: log}

	if err := a.Unlock(); err != nil {
		return nil, err
	}
	return a, nil
}

// Lock implements Actuator.
func (a *GPIOActuator) Lock() error {
	if err := a.door.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to drive door pin: %w", err)
	}
	if err := a.backlight.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to drive backlight pin: %w", err)
	}
	return nil
}

// Unlock implements Actuator.
func (a *GPIOActuator) Unlock() error {
	if err := a.door.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to drive door pin: %w", err)
	}
	if err := a.backlight.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to drive backlight pin: %w", err)
	}
	return nil
}

// Close implements Actuator. The door is left open and the backlight
// switched off.
func (a *GPIOActuator) Close() {
	if err := a.door.Out(gpio.Low); err != nil {
		a.log.Errorw("failed to open door on shutdown", "error", err)
	}
	if err := a.backlight.Out(gpio.Low); err != nil {
		a.log.Errorw("failed to switch off backlight on shutdown", "error", err)
	}
}

// NopActuator satisfies Actuator without touching any hardware. Used on
// hosts without GPIO, where lock commands are configured instead.
type NopActuator struct{}

func (NopActuator) Lock() error   { return nil }
func (NopActuator) Unlock() error { return nil }
func (NopActuator) Close()        {}

// DropRootPrivileges switches to the given user after the GPIO exports
// are done. A process not running as root has nothing to drop.
func DropRootPrivileges(username string) error {
	if syscall.Getuid() != 0 {
		return nil
	}

	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("failed to look up user %q: %w", username, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("bad uid %q for user %q: %w", u.Uid, username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("bad gid %q for user %q: %w", u.Gid, username, err)
	}

	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("failed to drop group privileges to %q: %w", username, err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("failed to drop user privileges to %q: %w", username, err)
	}
	return nil
}
