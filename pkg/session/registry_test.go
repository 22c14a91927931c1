package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Live()
	assert.False(t, ok)

	r.Subscribe(3)
	assert.True(t, r.IsLive(3))

	r.Subscribe(4)
	assert.False(t, r.IsLive(3))
	assert.True(t, r.IsLive(4))

	assert.False(t, r.Unsubscribe(3))
	assert.True(t, r.Drop(4))
	_, ok = r.Live()
	assert.False(t, ok)
}

func TestRegistryIgnoresZero(t *testing.T) {
	r := NewRegistry()
	r.Subscribe(Broadcast)
	_, ok := r.Live()
	assert.False(t, ok)
	assert.False(t, r.Unsubscribe(Broadcast))
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry()
	r.Subscribe(9)
	r.Reset()
	assert.False(t, r.IsLive(9))
}
