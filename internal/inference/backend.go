// Package inference defines the detection backend boundary and the method
// dispatch that sits in front of it. The model itself lives behind the
// Backend interface; everything here treats it as an opaque collaborator.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// Method selects how prompts are fed to the backend.
type Method string

const (
	MethodPCSText     Method = "PCS_TEXT"
	MethodPCSBox      Method = "PCS_BOX"
	MethodPCSCombined Method = "PCS_COMBINED"
	MethodAutoMask    Method = "AUTO_MASK"
)

func (m Method) Valid() bool {
	switch m {
	case MethodPCSText, MethodPCSBox, MethodPCSCombined, MethodAutoMask:
		return true
	}
	return false
}

// SingleConceptOnly reports whether the method ignores per-concept prompts
// and therefore cannot meaningfully run against more than one concept.
func (m Method) SingleConceptOnly() bool {
	return m == MethodAutoMask
}

func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown inference method %q", s)
	}
	return m, nil
}

// Device is the compute placement requested for the model.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

func (d Device) Valid() bool {
	switch d {
	case DeviceAuto, DeviceCPU, DeviceCUDA:
		return true
	}
	return false
}

// Box is a bounding box in corner form: x1, y1, x2, y2.
type Box [4]float64

// Prompt carries the per-call guidance for the backend. Text prompts drive
// PCS_TEXT, boxes drive PCS_BOX, combined methods use both. AUTO_MASK uses
// only PointsPerBatch.
type Prompt struct {
	Text           string
	Boxes          []Box
	BoxLabels      []int
	PointsPerBatch int
}

// Thresholds are the score and mask gates applied inside the backend.
type Thresholds struct {
	Confidence    float64
	Mask          float64
	MinAreaPixels int
}

// Detection is a single backend result. BBox is in corner form on the
// (possibly resized) input image. Mask is nil when masks were not requested
// or the method does not produce them.
type Detection struct {
	BBox  Box
	Score float64
	Mask  image.Image
}

// DetectRequest is one backend invocation.
type DetectRequest struct {
	Method     Method
	Prompt     Prompt
	Thresholds Thresholds
}

// LoadOptions controls backend initialization.
type LoadOptions struct {
	WeightsPath string
	Device      Device
	SafeMode    bool
}

// ErrDeviceOutOfMemory signals that an accelerated device exhausted its
// memory during a detect call. Callers may degrade to CPU and retry once.
var ErrDeviceOutOfMemory = errors.New("device out of memory")

// Backend is the detection model boundary. Load must be idempotent for
// unchanged options. Implementations are safe for concurrent Detect calls
// once loaded.
type Backend interface {
	Load(ctx context.Context, opts LoadOptions) error
	Detect(ctx context.Context, img image.Image, req DetectRequest) ([]Detection, error)
	Device() Device
	Unload()
}

// BackendFactory constructs a fresh backend instance. The Manager calls it
// whenever the active weights path changes.
type BackendFactory func() Backend
