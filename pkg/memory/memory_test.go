package memory

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetAllocRelease(t *testing.T) {
	b := NewBudget(100)
	assert.Equal(t, 100, b.Free())

	blk, err := b.Alloc(40)
	require.NoError(t, err)
	assert.Len(t, blk.Bytes(), 40)
	assert.Equal(t, 60, b.Free())
	assert.Equal(t, 40, b.Used())

	blk.Release()
	assert.Equal(t, 100, b.Free())

	// Extra release is a no-op.
	blk.Release()
	assert.Equal(t, 100, b.Free())
}

func TestBudgetExhausted(t *testing.T) {
	b := NewBudget(10)
	_, err := b.Alloc(11)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.Equal(t, uint64(1), b.Stats().Failures)

	blk, err := b.Alloc(10)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Free())
	blk.Release()
}

func TestBudgetInvalidSize(t *testing.T) {
	_, err := NewBudget(0).Alloc(-1)
	assert.True(t, errors.Is(err, ErrInvalidSize))
}

func TestAllocDeltaMatchesSize(t *testing.T) {
	b := NewBudget(1024)
	before := b.Free()
	blk, err := b.Alloc(300)
	require.NoError(t, err)
	assert.Equal(t, 300, before-b.Free())
	assert.Equal(t, 300, blk.Cost())
	blk.Release()
}

func TestNewBlockReleasesCost(t *testing.T) {
	var freed []int
	blk := NewBlock(8, 24, func(n int) { freed = append(freed, n) })
	assert.Equal(t, 8, blk.Len())
	assert.Equal(t, 24, blk.Cost())

	blk.Release()
	blk.Release()
	assert.Equal(t, []int{24}, freed)
}

func TestBlockRetain(t *testing.T) {
	b := NewBudget(64)
	blk, err := b.Alloc(16)
	require.NoError(t, err)

	blk.Retain()
	blk.Retain()
	blk.Release()
	blk.Release()
	assert.Equal(t, 16, b.Used(), "still referenced once")

	blk.Release()
	assert.Equal(t, 0, b.Used())
}

func TestNilBlock(t *testing.T) {
	var blk *Block
	assert.Nil(t, blk.Bytes())
	assert.Equal(t, 0, blk.Len())
	blk.Release()
	assert.Nil(t, blk.Retain())
}

func TestUnlimitedBudget(t *testing.T) {
	b := NewBudget(0)
	assert.Greater(t, b.Free(), 0)
	blk, err := b.Alloc(1 << 20)
	require.NoError(t, err)
	blk.Release()
	assert.Equal(t, 0, b.Used())
}

func TestBudgetConcurrent(t *testing.T) {
	b := NewBudget(1000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				blk, err := b.Alloc(10)
				if err == nil {
					blk.Release()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.Used())
	assert.LessOrEqual(t, b.Stats().Peak, 1000)
}
