// Package jobs runs detection jobs: one execution unit per job walks the
// dataset image by image, dispatches detection per concept, persists regions
// and checkpoints a cursor, then rolls the results up into bucket stats.
package jobs

import (
	"encoding/json"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/conceptscan/conceptscan/internal/inference"
)

// ConceptPrompt pairs a concept with the text prompt used to detect it.
type ConceptPrompt struct {
	ConceptID  uint   `json:"concept_id" validate:"required"`
	PromptText string `json:"prompt_text"`
}

// RawThresholds is the optional thresholds block of the stored params.
type RawThresholds struct {
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaskThreshold       *float64 `json:"mask_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	MinAreaPixels       *int     `json:"min_area_pixels,omitempty" validate:"omitempty,gte=0"`
}

type RawOutputControls struct {
	ReturnMasks *bool `json:"return_masks,omitempty"`
	ReturnBoxes *bool `json:"return_boxes,omitempty"`
}

type RawPromptPayload struct {
	Text           string          `json:"text,omitempty"`
	InputBoxes     []inference.Box `json:"input_boxes,omitempty"`
	InputBoxLabels []int           `json:"input_boxes_labels,omitempty"`
	PointsPerBatch int             `json:"points_per_batch,omitempty"`
}

type RawDemoOverlays struct {
	Enabled       bool  `json:"enabled"`
	CountPerImage int   `json:"count_per_image,omitempty"`
	IncludeMasks  *bool `json:"include_masks,omitempty"`
}

// RawParams is the wire form of job parameters, stored verbatim on the job
// row. Pointer fields distinguish "absent" from zero so defaulting can fill
// them in, including the safe mode dependent defaults.
type RawParams struct {
	Concepts              []ConceptPrompt    `json:"concepts" validate:"required,min=1,dive"`
	SafeMode              *bool              `json:"safe_mode,omitempty"`
	DevicePreference      *string            `json:"device_preference,omitempty" validate:"omitempty,oneof=auto cpu cuda"`
	TargetLongSide        *int               `json:"target_long_side,omitempty" validate:"omitempty,gt=0"`
	BoxThreshold          *float64           `json:"box_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	Thresholds            *RawThresholds     `json:"thresholds,omitempty"`
	OutputControls        *RawOutputControls `json:"output_controls,omitempty"`
	MaxDetectionsPerImage *int               `json:"max_detections_per_image,omitempty" validate:"omitempty,gte=0"`
	SleepMsBetweenImages  *int               `json:"sleep_ms_between_images,omitempty" validate:"omitempty,gte=0"`
	UserConfidence        *float64           `json:"user_confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxImages             *int               `json:"max_images,omitempty" validate:"omitempty,gte=0"`
	BatchSize             *int               `json:"batch_size,omitempty" validate:"omitempty,gt=0"`
	InferenceMethod       string             `json:"inference_method,omitempty" validate:"omitempty,inference_method"`
	PromptPayload         *RawPromptPayload  `json:"prompt_payload,omitempty"`
	DemoMode              bool               `json:"demo_mode,omitempty"`
	DemoOverlays          *RawDemoOverlays   `json:"demo_overlays,omitempty"`
}

// Params is the fully resolved runtime configuration of a job.
type Params struct {
	Concepts       []ConceptPrompt
	SafeMode       bool
	Device         inference.Device
	TargetLongSide int
	Thresholds     inference.Thresholds
	ReturnMasks    bool
	ReturnBoxes    bool
	MaxDetections  int
	SleepBetween   time.Duration
	UserConfidence float64
	MaxImages      int
	Method         inference.Method
	PromptPayload  RawPromptPayload
	DemoMode       bool
	DemoEnabled    bool
	DemoCount      int
	DemoMasks      bool
}

// ResolveParams decodes the stored params blob and applies defaults. Safe
// mode is on unless explicitly disabled and tilts the defaults toward small
// inputs and CPU: shorter target side, higher confidence floor, fewer
// detections and a pause between images.
func ResolveParams(raw []byte, defaultTargetLongSide int) (*Params, error) {
	var rp RawParams
	if err := json.Unmarshal(raw, &rp); err != nil {
		return nil, pkgerrors.Wrap(err, "decoding job params")
	}
	return rp.Resolve(defaultTargetLongSide)
}

func (rp *RawParams) Resolve(defaultTargetLongSide int) (*Params, error) {
	p := &Params{Concepts: rp.Concepts}

	p.SafeMode = true
	if rp.SafeMode != nil {
		p.SafeMode = *rp.SafeMode
	}

	switch {
	case rp.DevicePreference != nil:
		d := inference.Device(strings.ToLower(*rp.DevicePreference))
		if !d.Valid() {
			return nil, pkgerrors.Errorf("invalid device preference %q", *rp.DevicePreference)
		}
		p.Device = d
	case p.SafeMode:
		p.Device = inference.DeviceCPU
	default:
		p.Device = inference.DeviceAuto
	}

	p.TargetLongSide = defaultTargetLongSide
	if p.SafeMode {
		p.TargetLongSide = 512
	}
	if rp.TargetLongSide != nil {
		p.TargetLongSide = *rp.TargetLongSide
	}

	boxThreshold := 0.3
	if p.SafeMode {
		boxThreshold = 0.5
	}
	if rp.BoxThreshold != nil {
		boxThreshold = *rp.BoxThreshold
	}
	p.Thresholds = inference.Thresholds{Confidence: boxThreshold, Mask: 0.5}
	if rp.Thresholds != nil {
		if rp.Thresholds.ConfidenceThreshold != nil {
			p.Thresholds.Confidence = *rp.Thresholds.ConfidenceThreshold
		}
		if rp.Thresholds.MaskThreshold != nil {
			p.Thresholds.Mask = *rp.Thresholds.MaskThreshold
		}
		if rp.Thresholds.MinAreaPixels != nil {
			p.Thresholds.MinAreaPixels = *rp.Thresholds.MinAreaPixels
		}
	}

	p.ReturnMasks = true
	p.ReturnBoxes = true
	if rp.OutputControls != nil {
		if rp.OutputControls.ReturnMasks != nil {
			p.ReturnMasks = *rp.OutputControls.ReturnMasks
		}
		if rp.OutputControls.ReturnBoxes != nil {
			p.ReturnBoxes = *rp.OutputControls.ReturnBoxes
		}
	}

	p.MaxDetections = 100
	if p.SafeMode {
		p.MaxDetections = 20
	}
	if rp.MaxDetectionsPerImage != nil {
		p.MaxDetections = *rp.MaxDetectionsPerImage
	}

	sleepMs := 0
	if p.SafeMode {
		sleepMs = 200
	}
	if rp.SleepMsBetweenImages != nil {
		sleepMs = *rp.SleepMsBetweenImages
	}
	p.SleepBetween = time.Duration(sleepMs) * time.Millisecond

	p.UserConfidence = 0.5
	if rp.UserConfidence != nil {
		p.UserConfidence = *rp.UserConfidence
	}

	if rp.MaxImages != nil {
		p.MaxImages = *rp.MaxImages
	}

	p.Method = inference.MethodPCSText
	if rp.InferenceMethod != "" {
		m, err := inference.ParseMethod(rp.InferenceMethod)
		if err != nil {
			return nil, err
		}
		p.Method = m
	}

	if rp.PromptPayload != nil {
		p.PromptPayload = *rp.PromptPayload
		p.PromptPayload.Text = strings.TrimSpace(p.PromptPayload.Text)
	}

	p.DemoMode = rp.DemoMode
	p.DemoCount = 3
	p.DemoMasks = true
	if rp.DemoOverlays != nil {
		p.DemoEnabled = rp.DemoOverlays.Enabled
		if rp.DemoOverlays.CountPerImage > 0 {
			p.DemoCount = rp.DemoOverlays.CountPerImage
		}
		if rp.DemoOverlays.IncludeMasks != nil {
			p.DemoMasks = *rp.DemoOverlays.IncludeMasks
		}
	}

	return p, nil
}

// Prompt assembles the per-concept detect prompt. The payload text wins over
// the concept's own prompt text for text driven methods.
func (p *Params) Prompt(conceptPrompt string) inference.Prompt {
	text := p.PromptPayload.Text
	if text == "" {
		text = strings.TrimSpace(conceptPrompt)
	}
	return inference.Prompt{
		Text:           text,
		Boxes:          p.PromptPayload.InputBoxes,
		BoxLabels:      p.PromptPayload.InputBoxLabels,
		PointsPerBatch: p.PromptPayload.PointsPerBatch,
	}
}
