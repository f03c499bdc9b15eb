package inference

import (
	"context"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/conceptscan/conceptscan/pkg/metrics"
)

// relaxedConfidence is the floor the dispatcher retries at when the initial
// pass returns nothing and the configured threshold sits above it.
const relaxedConfidence = 0.3

// Result is the outcome of one dispatched detect call. UsedThreshold records
// the confidence actually applied, which differs from the request when the
// relaxation fallback fired.
type Result struct {
	Detections    []Detection
	UsedThreshold float64
}

// Dispatcher validates prompts per method and forwards calls to a backend,
// applying the one-shot threshold relaxation for promptable methods.
type Dispatcher struct {
	log *zap.SugaredLogger
}

func NewDispatcher(log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{log: log}
}

// Dispatch runs one detect call for a concept. The prompt is validated
// against the method's requirements before the backend is touched; a
// validation failure is an ErrInvalidPrompt and costs no backend call. When
// a promptable method returns zero detections and the configured confidence
// exceeds the relaxed floor, the call is retried once at the floor.
func (d *Dispatcher) Dispatch(ctx context.Context, backend Backend, img image.Image, req DetectRequest) (*Result, error) {
	if err := validatePrompt(req.Method, req.Prompt); err != nil {
		return nil, err
	}

	detections, err := d.detect(ctx, backend, img, req)
	if err != nil {
		return nil, err
	}
	if len(detections) > 0 || req.Method == MethodAutoMask || req.Thresholds.Confidence <= relaxedConfidence {
		return &Result{Detections: detections, UsedThreshold: req.Thresholds.Confidence}, nil
	}

	d.log.Infow("no detections at configured confidence, retrying relaxed",
		"method", req.Method, "confidence", req.Thresholds.Confidence, "relaxed", relaxedConfidence)
	relaxed := req
	relaxed.Thresholds.Confidence = relaxedConfidence
	detections, err = d.detect(ctx, backend, img, relaxed)
	if err != nil {
		return nil, err
	}
	return &Result{Detections: detections, UsedThreshold: relaxedConfidence}, nil
}

func (d *Dispatcher) detect(ctx context.Context, backend Backend, img image.Image, req DetectRequest) ([]Detection, error) {
	start := time.Now()
	detections, err := backend.Detect(ctx, img, req)
	metrics.ObserveInferenceDuration(string(req.Method), time.Since(start))
	if err != nil {
		return nil, NewErrInference(req.Method, err)
	}
	return detections, nil
}

func validatePrompt(method Method, prompt Prompt) error {
	switch method {
	case MethodPCSText:
		if prompt.Text == "" {
			return NewErrInvalidPrompt(method, "text prompt is required")
		}
	case MethodPCSBox:
		if len(prompt.Boxes) == 0 {
			return NewErrInvalidPrompt(method, "at least one box prompt is required")
		}
	case MethodPCSCombined:
		if prompt.Text == "" {
			return NewErrInvalidPrompt(method, "text prompt is required")
		}
		if len(prompt.Boxes) == 0 {
			return NewErrInvalidPrompt(method, "at least one box prompt is required")
		}
	case MethodAutoMask:
		// No prompt requirements, the method segments everything.
	default:
		return NewErrInvalidPrompt(method, "unknown method")
	}
	if len(prompt.BoxLabels) > 0 && len(prompt.BoxLabels) != len(prompt.Boxes) {
		return NewErrInvalidPrompt(method, "box labels must match boxes")
	}
	return nil
}
