package ptrutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPtrAndDeref(t *testing.T) {
	p := Ptr(42)
	assert.Equal(t, 42, *p)
	assert.Equal(t, 42, Deref(p, 0))
	assert.Equal(t, 7, Deref[int](nil, 7))
}
