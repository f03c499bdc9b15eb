// Package imaging loads dataset images as orientation-corrected pixel
// buffers and writes binary mask rasters.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	pkgerrors "github.com/pkg/errors"

	// Register webp so image.DecodeConfig understands dataset webp files.
	_ "golang.org/x/image/webp"
)

var (
	// ErrNotFound means the file does not exist on disk.
	ErrNotFound = errors.New("image file not found")
	// ErrUnreadable means the file exists but could not be decoded.
	ErrUnreadable = errors.New("image file unreadable")
)

// SupportedExtensions lists the dataset file extensions the indexer accepts.
var SupportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

func SupportedFile(path string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Load decodes the file at path into an orientation-corrected image. EXIF
// orientation tags are applied before the buffer is returned.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, pkgerrors.Wrapf(ErrUnreadable, "%s: %v", path, err)
	}
	return img, nil
}

// Dimensions reads the pixel size of the file at path without decoding the
// full raster.
func Dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return 0, 0, pkgerrors.Wrapf(ErrUnreadable, "%s: %v", path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, pkgerrors.Wrapf(ErrUnreadable, "%s: %v", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// FitLongSide scales img down so its longer side does not exceed target,
// preserving the aspect ratio. Smaller images and non-positive targets are
// returned unchanged; detection never upsamples.
func FitLongSide(img image.Image, target int) image.Image {
	if target <= 0 {
		return img
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	long := w
	if h > long {
		long = h
	}
	if long <= target {
		return img
	}
	scale := float64(target) / float64(long)
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return imaging.Resize(img, nw, nh, imaging.Lanczos)
}
