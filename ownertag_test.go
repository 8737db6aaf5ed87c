package filepoll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeFIFO struct {
	n      int
	hasHup bool
}

func (f *fakeFIFO) Ready(n int, hasHup bool) {
	f.n, f.hasHup = n, hasHup
}

func TestOwnerTagRoundTrip(t *testing.T) {
	fifo := &fakeFIFO{}
	tag := InitOwnerTag(OwnerKindFIFOReader, fifo)
	assert.Equal(t, OwnerKindFIFOReader, tag.Kind())
	back, ok := OwnerAs[Readable](tag)
	assert.True(t, ok)
	assert.Same(t, fifo, back)
	back.Ready(42, true)
	assert.Equal(t, 42, fifo.n)
	assert.True(t, fifo.hasHup)
}

func TestDeactivatedOwnerTag(t *testing.T) {
	tag := DeactivatedOwnerTag()
	assert.Equal(t, OwnerKindDeactivated, tag.Kind())
	_, ok := OwnerAs[Readable](tag)
	assert.False(t, ok)
}

func TestOwnerKindString(t *testing.T) {
	assert.Equal(t, "FIFOReader", OwnerKindFIFOReader.String())
	assert.Equal(t, "Deactivated", OwnerKindDeactivated.String())
	assert.Contains(t, OwnerKind(200).String(), "OwnerKind(200)")
}

func TestTypeNameFromKind(t *testing.T) {
	name, ok := TypeNameFromKind(OwnerKindSubprocess)
	assert.True(t, ok)
	assert.Equal(t, "ProcessWatcher", name)

	_, ok = TypeNameFromKind(OwnerKindDeactivated)
	assert.False(t, ok)
}
