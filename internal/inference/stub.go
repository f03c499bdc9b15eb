package inference

import (
	"context"
	"image"
	"os"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// stubBackend verifies the weights exist but performs no real inference,
// returning zero detections for every call. Useful for running the full job
// pipeline without a model binding; the demo overlay path covers the output.
type stubBackend struct {
	mu     sync.Mutex
	loaded bool
	opts   LoadOptions
}

func NewStubBackend() Backend {
	return &stubBackend{}
}

func (b *stubBackend) Load(_ context.Context, opts LoadOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded && b.opts == opts {
		return nil
	}
	if _, err := os.Stat(opts.WeightsPath); err != nil {
		return pkgerrors.Wrap(err, "weights path")
	}
	b.loaded = true
	b.opts = opts
	return nil
}

func (b *stubBackend) Detect(_ context.Context, _ image.Image, _ DetectRequest) ([]Detection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return nil, pkgerrors.New("backend not loaded")
	}
	return nil, nil
}

func (b *stubBackend) Device() Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opts.Device == DeviceAuto || b.opts.Device == "" {
		return DeviceCPU
	}
	return b.opts.Device
}

func (b *stubBackend) Unload() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loaded = false
}
