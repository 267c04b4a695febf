package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		status int
		want   Kind
	}{
		{429, KindTransient},
		{408, KindTransient},
		{500, KindTransient},
		{503, KindTransient},
		{401, KindFatal},
		{403, KindFatal},
		{400, KindPermanent},
		{404, KindPermanent},
		{422, KindPermanent},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			pe := ClassifyStatus(tt.status, base)
			assert.Equal(t, tt.want, pe.Kind)
			assert.ErrorIs(t, pe, base)
		})
	}

	assert.ErrorIs(t, ClassifyStatus(429, base), ErrRateLimited)
	assert.ErrorIs(t, ClassifyStatus(401, base), ErrUnauthorized)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTransient, Classify(context.DeadlineExceeded).Kind)
	assert.Equal(t, KindTransient, Classify(fmt.Errorf("post: %w", context.DeadlineExceeded)).Kind)
	assert.Equal(t, KindTransient, Classify(&net.OpError{Op: "dial", Err: errors.New("refused")}).Kind)
	assert.Equal(t, KindPermanent, Classify(errors.New("weird")).Kind)

	fatal := Fatal("bad key", nil)
	assert.Same(t, fatal, Classify(fmt.Errorf("wrapped: %w", fatal)))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(nil))
	assert.Equal(t, KindPermanent, KindOf(Permanent("bad", nil)))
	assert.Equal(t, KindTransient, KindOf(fmt.Errorf("x: %w", Transient("slow", nil))))
	assert.Equal(t, KindFatal, KindOf(Fatal("auth", ErrUnauthorized)))
}

func TestProcessingError_Error(t *testing.T) {
	assert.Equal(t, "permanent: empty model output", Permanent("empty model output", nil).Error())
	assert.Equal(t, "transient: rate limited: boom", Transient("rate limited", errors.New("boom")).Error())
	assert.Equal(t, "unknown", Kind(99).String())
}
