package coreerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_RendersPreflightPrefix(t *testing.T) {
	err := New(KindBundleNotFound, "bundle abc not found")
	assert.Equal(t, "[preflight_error kind=BUNDLE_NOT_FOUND] bundle abc not found", err.Error())
}

func TestWrap_UnwrapsToCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindPermissionDenied, "write failed", cause)

	assert.ErrorIs(t, err, cause)
}

func TestWithHint_DoesNotMutateOriginal(t *testing.T) {
	base := New(KindLogprobsUnsupported, "provider lacks logprobs")
	hinted := base.WithHint("disable IGP")

	assert.Empty(t, base.Hint)
	assert.Equal(t, "disable IGP", hinted.Hint)
}
