package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAndKindOf(t *testing.T) {
	err := Contract("step.dereference", errors.New("missing required input"))
	assert.True(t, Is(err, KindContract))
	assert.False(t, Is(err, KindTransientExternal))

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindContract, kind)
}

func TestWrappedErrorUnwraps(t *testing.T) {
	sentinel := errors.New("boom")
	err := TransientExternal("bus.publish", sentinel)
	assert.True(t, errors.Is(err, sentinel))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindContract:            400,
		KindLifecycleViolation:  409,
		KindPlacementUnresolved: 404,
		KindTransientExternal:   502,
		KindTerminalExternal:    502,
		KindSignalAbort:         200,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), fmt.Sprintf("kind=%s", kind))
	}
}

func TestKindOfUnrelatedError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}
