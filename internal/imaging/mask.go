package imaging

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	pkgerrors "github.com/pkg/errors"
)

// RectMask builds a binary mask of the given canvas size with the rectangle
// set to white. Coordinates outside the canvas are clipped.
func RectMask(width, height int, rect image.Rectangle) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, width, height))
	rect = rect.Intersect(mask.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			mask.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return mask
}

// ScaleMask resizes a mask raster to the given canvas size. Nearest neighbor
// keeps the values binary.
func ScaleMask(mask image.Image, width, height int) image.Image {
	bounds := mask.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return mask
	}
	return imaging.Resize(mask, width, height, imaging.NearestNeighbor)
}

// WriteMaskPNG persists a mask under dir, creating parent directories as
// needed, and returns the absolute path of the written file.
func WriteMaskPNG(dir, name string, mask image.Image) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", pkgerrors.Wrap(err, "creating mask directory")
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", pkgerrors.Wrap(err, "creating mask file")
	}
	defer f.Close()
	if err := png.Encode(f, mask); err != nil {
		return "", pkgerrors.Wrap(err, "encoding mask png")
	}
	return path, nil
}
