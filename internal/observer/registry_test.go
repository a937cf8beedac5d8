package observer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyAllOrder(t *testing.T) {
	r := NewRegistry()

	var order []int
	r.Register(func() { order = append(order, 1) })
	r.Register(func() { order = append(order, 2) })
	r.Register(func() { order = append(order, 3) })

	r.NotifyAll()
	assert.Equal(t, []int{1, 2, 3}, order)

	// Every callback runs exactly once per notification.
	r.NotifyAll()
	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, order)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()

	var ran []string
	h1 := r.Register(func() { ran = append(ran, "a") })
	r.Register(func() { ran = append(ran, "b") })

	require.NoError(t, r.Unregister(h1))
	r.NotifyAll()
	assert.Equal(t, []string{"b"}, ran)

	// Removing the same handle twice is a programmer error.
	assert.ErrorIs(t, r.Unregister(h1), ErrNotFound)
	assert.ErrorIs(t, r.Unregister(Handle(uuid.New())), ErrNotFound)
	assert.Equal(t, 1, r.Len())
}

func TestNotifyAllIsolatesPanics(t *testing.T) {
	r := NewRegistry()

	var ran []int
	r.Register(func() { ran = append(ran, 1) })
	r.Register(func() { panic("boom") })
	r.Register(func() { ran = append(ran, 3) })

	assert.NotPanics(t, r.NotifyAll)
	assert.Equal(t, []int{1, 3}, ran)
}

func TestUnregisterDuringNotify(t *testing.T) {
	r := NewRegistry()

	var count int
	var h Handle
	h = r.Register(func() {
		count++
		require.NoError(t, r.Unregister(h))
	})

	r.NotifyAll()
	r.NotifyAll()
	assert.Equal(t, 1, count)
}
