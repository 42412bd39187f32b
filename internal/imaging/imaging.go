// Package imaging holds small gocv helpers shared by the matchers.
package imaging

import (
	"image"

	"gocv.io/x/gocv"
)

// EnsureGray returns a single-channel view of img. The second return
// value reports whether the mat is owned by the caller and must be
// closed; a frame that is already grayscale is returned as-is.
func EnsureGray(img gocv.Mat) (gocv.Mat, bool) {
	if img.Channels() == 1 {
		return img, false
	}
	gray := gocv.NewMat()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	return gray, true
}

// CenterMean returns the mean intensity of a centered band covering the
// middle quarter of the frame area. The region view is released before
// returning, leaving the frame untouched.
func CenterMean(img gocv.Mat) float64 {
	w := img.Cols()
	h := img.Rows()
	if w < 2 || h < 2 {
		return 0
	}
	band := image.Rect(w/4, h/4, w-w/4, h-h/4)
	region := img.Region(band)
	defer region.Close()
	return region.Mean().Val1
}

// CountContours finds external contours in a binary image and counts
// those with an area above minArea. The input mat is not modified.
func CountContours(bin gocv.Mat, minArea float64) int {
	// FindContours modifies its input, so work on a copy.
	work := bin.Clone()
	defer work.Close()

	contours := gocv.FindContours(work, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()

	count := 0
	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) > minArea {
			count++
		}
	}
	return count
}

// EdgeColumnSums returns the pixel sums of the leftmost and rightmost
// columns of a binary image.
func EdgeColumnSums(bin gocv.Mat) (left, right int) {
	h := bin.Rows()
	w := bin.Cols()
	if w < 2 || h < 1 {
		return 0, 0
	}

	l := bin.Region(image.Rect(0, 0, 1, h))
	left = int(l.Sum().Val1)
	l.Close()

	r := bin.Region(image.Rect(w-1, 0, w, h))
	right = int(r.Sum().Val1)
	r.Close()

	return left, right
}

// ClampRect clips rect to the bounds of a w by h image.
func ClampRect(rect image.Rectangle, w, h int) image.Rectangle {
	return rect.Intersect(image.Rect(0, 0, w, h))
}
