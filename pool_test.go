package filepoll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoopPoolPickRoundRobins(t *testing.T) {
	p := &LoopPool{loops: []*Loop{
		newLoopWithBackend(LoopKindJS, &fakeBackend{}),
		newLoopWithBackend(LoopKindJS, &fakeBackend{}),
		newLoopWithBackend(LoopKindJS, &fakeBackend{}),
	}}

	first := p.Pick()
	second := p.Pick()
	third := p.Pick()
	fourth := p.Pick()

	assert.Same(t, p.loops[0], first)
	assert.Same(t, p.loops[1], second)
	assert.Same(t, p.loops[2], third)
	assert.Same(t, p.loops[0], fourth)
}

func TestLoopPoolIterateStopsEarly(t *testing.T) {
	p := &LoopPool{loops: []*Loop{
		newLoopWithBackend(LoopKindJS, &fakeBackend{}),
		newLoopWithBackend(LoopKindJS, &fakeBackend{}),
	}}

	var visited int
	p.Iterate(func(idx int, loop *Loop) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func TestLoopPoolLen(t *testing.T) {
	p := &LoopPool{loops: []*Loop{
		newLoopWithBackend(LoopKindJS, &fakeBackend{}),
	}}
	assert.Equal(t, 1, p.Len())
}

func TestNewLoopPoolRejectsZeroSize(t *testing.T) {
	_, err := NewLoopPool(LoopKindJS, 0)
	assert.Error(t, err)
}
