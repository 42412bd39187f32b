package catcierge

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"gocv.io/x/gocv"
	"golang.org/x/term"
)

// Camera wraps an OpenCV capture with frame-rate tracking and the
// optional preview window. Input is either a camera device id or a
// video file, so recorded footage can drive the controller on a bench.
type Camera struct {
	// Input (exactly one must be set)
	device    *int
	inputPath *string

	capture *gocv.VideoCapture

	width  int
	height int

	frameCounter int
	progressBar  *progressbar.ProgressBar

	window *gocv.Window
}

// CameraOptions configures Camera creation.
type CameraOptions struct {
	// Input (exactly one must be set)
	Device    *int
	InputPath *string

	// Requested capture size. Defaults to 320x240, plenty for a
	// backlit silhouette and cheap enough for a single-board computer.
	Width  int
	Height int

	// Show opens the preview window.
	Show bool
}

// NewCamera opens the capture device or input file.
func NewCamera(opts CameraOptions) (*Camera, error) {
	if (opts.Device == nil && opts.InputPath == nil) || (opts.Device != nil && opts.InputPath != nil) {
		return nil, fmt.Errorf("exactly one of Device or InputPath must be set")
	}

	c := &Camera{
		device:    opts.Device,
		inputPath: opts.InputPath,
		width:     opts.Width,
		height:    opts.Height,
	}
	if c.width == 0 {
		c.width = 320
	}
	if c.height == 0 {
		c.height = 240
	}

	var err error
	if opts.Device != nil {
		c.capture, err = gocv.OpenVideoCapture(*opts.Device)
		if err != nil {
			return nil, fmt.Errorf("failed to open camera %d: %w", *opts.Device, err)
		}
		c.capture.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
		c.capture.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	} else {
		c.capture, err = gocv.OpenVideoCapture(*opts.InputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open input %s: %w", *opts.InputPath, err)
		}
	}

	if opts.Show {
		c.window = gocv.NewWindow("catcierge")
	}

	return c, nil
}

// Frames returns a channel yielding captured frames. Each frame is
// borrowed by the receiver for one controller tick and must be closed
// after it. The channel closes on end of stream.
func (c *Camera) Frames() <-chan gocv.Mat {
	frames := make(chan gocv.Mat)

	go func() {
		defer close(frames)

		c.setupProgressBar()

		for {
			frame := gocv.NewMat()
			if ok := c.capture.Read(&frame); !ok {
				frame.Close()
				break
			}
			if frame.Empty() {
				frame.Close()
				break
			}

			c.frameCounter++
			if c.progressBar != nil {
				c.progressBar.Add(1)
			}

			frames <- frame
		}
	}()

	return frames
}

// Show displays the frame in the preview window, drawing the match
// rectangles of the most recent verdict. The original frame is never
// drawn on; a clone is used whenever rectangles are overlaid.
func (c *Camera) Show(frame gocv.Mat, group *MatchGroup, highlight bool) {
	if c.window == nil {
		return
	}

	img := frame
	overlaid := false

	cur := group.Current()
	if highlight && cur != nil && len(cur.Result.Rects) > 0 {
		// Never draw on the original frame, that would interfere with
		// the next match.
		img = frame.Clone()
		overlaid = true

		matchColor := color.RGBA{R: 255}
		if cur.Result.Success {
			matchColor = color.RGBA{G: 255}
		}

		for _, r := range cur.Result.Rects {
			gocv.Rectangle(&img, r, matchColor, 2)
		}
	}

	c.window.IMShow(img)
	c.window.WaitKey(10)

	if overlaid {
		img.Close()
	}
}

// setupProgressBar creates the frame spinner. Camera input has no
// known length, so no percentage or ETA is shown.
func (c *Camera) setupProgressBar() {
	c.progressBar = progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(c.progressDescription()),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("fps"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func (c *Camera) progressDescription() string {
	var desc string
	if c.device != nil {
		desc = fmt.Sprintf("Camera %d", *c.device)
	} else {
		desc = filepath.Base(*c.inputPath)
	}

	// Abbreviate if too long (reserve 25 cols for the bar itself).
	termCols, _ := terminalSize(80, 24)
	maxLen := termCols - 25
	if len(desc) > maxLen && maxLen > 10 {
		start := desc[:maxLen/2-2]
		end := desc[len(desc)-(maxLen/2-3):]
		desc = start + " ... " + end
	}

	return desc
}

// Close releases the capture and the preview window.
func (c *Camera) Close() error {
	if c.capture != nil {
		c.capture.Close()
	}
	if c.window != nil {
		c.window.Close()
	}
	return nil
}

// terminalSize returns the terminal dimensions, falling back to the
// provided defaults when no terminal is attached.
func terminalSize(defaultCols, defaultLines int) (cols, lines int) {
	for _, f := range []*os.File{os.Stdin, os.Stdout, os.Stderr} {
		if width, height, err := term.GetSize(int(f.Fd())); err == nil {
			return width, height
		}
	}
	return defaultCols, defaultLines
}
