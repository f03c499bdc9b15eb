package jobs

import (
	"math"

	"github.com/conceptscan/conceptscan/internal/inference"
)

// DemoBoxes lays out count synthetic bounding boxes on a grid over the image,
// up to three per row, with a 6% outer margin and boxes centered in their
// cells. Used to produce placeholder overlays when a pass yields no real
// detections.
func DemoBoxes(width, height, count int) []inference.Box {
	if count <= 0 || width <= 0 || height <= 0 {
		return nil
	}
	cols := count
	if cols > 3 {
		cols = 3
	}
	rows := int(math.Ceil(float64(count) / float64(cols)))

	w := float64(width)
	h := float64(height)
	marginX := w * 0.06
	marginY := h * 0.06
	cellW := (w - 2*marginX) / float64(cols)
	cellH := (h - 2*marginY) / float64(rows)
	boxW := cellW * 0.65
	boxH := cellH * 0.6

	boxes := make([]inference.Box, 0, count)
	for i := 0; i < count; i++ {
		row := i / cols
		col := i % cols
		x0 := marginX + float64(col)*cellW + (cellW-boxW)/2
		y0 := marginY + float64(row)*cellH + (cellH-boxH)/2
		boxes = append(boxes, inference.Box{x0, y0, x0 + boxW, y0 + boxH})
	}
	return boxes
}
