package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsDoubleBegin(t *testing.T) {
	r := newRegistry()

	_, h, err := r.begin(1)
	require.NoError(t, err)

	_, _, err = r.begin(1)
	var active *ErrJobActive
	require.ErrorAs(t, err, &active)

	// Another job id is unaffected.
	_, h2, err := r.begin(2)
	require.NoError(t, err)

	r.finish(1, h)
	r.finish(2, h2)
}

func TestRegistrySlotFreedOnlyOnFinish(t *testing.T) {
	r := newRegistry()

	ctx, h, err := r.begin(7)
	require.NoError(t, err)
	assert.True(t, r.active(7))

	// Cancelling signals the context but keeps the slot claimed.
	assert.True(t, r.cancel(7))
	select {
	case <-ctx.Done():
	default:
		t.Fatal("context not cancelled")
	}
	assert.True(t, r.active(7))
	_, _, err = r.begin(7)
	assert.Error(t, err)

	r.finish(7, h)
	assert.False(t, r.active(7))

	_, h2, err := r.begin(7)
	require.NoError(t, err)
	r.finish(7, h2)
}

func TestRegistryCancelUnknownJob(t *testing.T) {
	r := newRegistry()
	assert.False(t, r.cancel(99))
	// wait on an idle job returns immediately
	r.wait(99)
}

func TestRegistryWaitBlocksUntilFinish(t *testing.T) {
	r := newRegistry()
	_, h, err := r.begin(3)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r.wait(3)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("wait returned while the execution unit was still active")
	default:
	}

	r.finish(3, h)
	<-done
}
