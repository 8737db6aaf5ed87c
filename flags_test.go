package filepoll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagsUnionRemoveHas(t *testing.T) {
	f := FlagPollReadable.Union(FlagOneShot)
	assert.True(t, f.Has(FlagPollReadable))
	assert.True(t, f.Has(FlagOneShot))
	assert.False(t, f.Has(FlagPollWritable))

	f = f.Remove(FlagOneShot)
	assert.False(t, f.Has(FlagOneShot))
	assert.True(t, f.Has(FlagPollReadable))
}

func TestFlagsUpdatedPreservesNonReadiness(t *testing.T) {
	f := FlagPollReadable.Union(FlagOneShot).Union(FlagReadable)
	f2 := f.updated(FlagWritable.Union(FlagHUP))
	assert.True(t, f2.Has(FlagPollReadable))
	assert.True(t, f2.Has(FlagOneShot))
	assert.False(t, f2.Has(FlagReadable))
	assert.True(t, f2.Has(FlagWritable))
	assert.True(t, f2.Has(FlagHUP))
}

func TestFlagsUpdatedIdempotent(t *testing.T) {
	f := FlagPollReadable
	once := f.updated(FlagReadable.Union(FlagHUP))
	twice := once.updated(FlagReadable.Union(FlagHUP))
	assert.Equal(t, once, twice)
}

func TestFlagsPollRequestCount(t *testing.T) {
	assert.Equal(t, 0, Flags(0).pollRequestCount())
	assert.Equal(t, 1, FlagPollReadable.pollRequestCount())
	assert.Equal(t, 2, FlagPollReadable.Union(FlagPollWritable).pollRequestCount())
}
