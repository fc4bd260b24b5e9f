package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter(t *testing.T) {
	t.Run("delivers to all listeners", func(t *testing.T) {
		emitter := NewEmitter()
		var got []Event
		emitter.Subscribe(func(ev Event) { got = append(got, ev) })
		emitter.Subscribe(func(ev Event) { got = append(got, ev) })

		emitter.Emit(EventExecutionStarted, "exec-1", map[string]any{"agent": "a"})

		require.Len(t, got, 2)
		assert.Equal(t, EventExecutionStarted, got[0].Name)
		assert.Equal(t, "exec-1", got[0].ExecutionID)
		assert.Equal(t, "a", got[0].Data["agent"])
		assert.NotEmpty(t, got[0].ID)
	})

	t.Run("listener panic does not propagate", func(t *testing.T) {
		emitter := NewEmitter()
		emitter.Subscribe(func(Event) { panic("listener bug") })
		var delivered bool
		emitter.Subscribe(func(Event) { delivered = true })

		assert.NotPanics(t, func() {
			emitter.Emit(EventExecutionCompleted, "exec-1", nil)
		})
		assert.True(t, delivered)
	})

	t.Run("reset detaches listeners", func(t *testing.T) {
		emitter := NewEmitter()
		var count int
		emitter.Subscribe(func(Event) { count++ })
		emitter.Reset()

		emitter.Emit(EventExecutionFailed, "exec-1", nil)
		assert.Zero(t, count)
	})
}
