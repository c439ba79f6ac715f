package tracker

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_Lifecycle(t *testing.T) {
	t.Run("Should track a key through start, updates and completion", func(t *testing.T) {
		p := NewProgress()
		p.Start("users", "loading users")

		state, ok := p.Get("users")
		require.True(t, ok)
		assert.True(t, state.IsLoading)
		assert.Zero(t, state.Progress)
		assert.Equal(t, "loading users", state.Message)

		p.SetProgress("users", 50, "halfway")
		state, _ = p.Get("users")
		assert.True(t, state.IsLoading)
		assert.Equal(t, float64(50), state.Progress)
		assert.Equal(t, "halfway", state.Message)

		p.Complete("users", "done")
		state, _ = p.Get("users")
		assert.False(t, state.IsLoading)
		assert.Equal(t, float64(100), state.Progress)
	})

	t.Run("Should keep reached progress when a key fails", func(t *testing.T) {
		p := NewProgress()
		p.Start("orders", "loading orders")
		p.SetProgress("orders", 70, "")

		p.Fail("orders", "connection refused")

		state, ok := p.Get("orders")
		require.True(t, ok)
		assert.False(t, state.IsLoading)
		assert.Equal(t, float64(70), state.Progress)
		assert.Equal(t, "connection refused", state.Message)
	})

	t.Run("Should clamp progress updates into the percent range", func(t *testing.T) {
		p := NewProgress()
		p.SetProgress("a", -10, "")
		p.SetProgress("b", 250, "")

		a, _ := p.Get("a")
		b, _ := p.Get("b")
		assert.Zero(t, a.Progress)
		assert.Equal(t, float64(100), b.Progress)
	})

	t.Run("Should keep previous message when update carries none", func(t *testing.T) {
		p := NewProgress()
		p.Start("users", "loading users")
		p.SetProgress("users", 30, "")

		state, _ := p.Get("users")
		assert.Equal(t, "loading users", state.Message)
	})

	t.Run("Should report missing keys", func(t *testing.T) {
		p := NewProgress()

		_, ok := p.Get("missing")
		assert.False(t, ok)
	})
}

func TestProgress_Aggregates(t *testing.T) {
	t.Run("Should report loading while any key is loading", func(t *testing.T) {
		p := NewProgress()
		p.Start("a", "")
		p.Start("b", "")
		p.Complete("a", "")

		assert.True(t, p.IsAnyLoading())

		p.Complete("b", "")
		assert.False(t, p.IsAnyLoading())
	})

	t.Run("Should average progress across tracked keys", func(t *testing.T) {
		p := NewProgress()
		p.SetProgress("a", 100, "")
		p.SetProgress("b", 50, "")
		p.SetProgress("c", 0, "")

		assert.InDelta(t, 50.0, p.OverallProgress(), 0.001)
	})

	t.Run("Should report zero overall progress when nothing is tracked", func(t *testing.T) {
		p := NewProgress()

		assert.Zero(t, p.OverallProgress())
	})

	t.Run("Should snapshot states without sharing the internal map", func(t *testing.T) {
		p := NewProgress()
		p.Start("a", "loading")

		snapshot := p.Snapshot()
		snapshot["a"] = ProgressState{Progress: 99}
		snapshot["b"] = ProgressState{}

		state, ok := p.Get("a")
		require.True(t, ok)
		assert.Zero(t, state.Progress)
		_, ok = p.Get("b")
		assert.False(t, ok)
	})

	t.Run("Should drop every key on reset", func(t *testing.T) {
		p := NewProgress()
		p.Start("a", "")
		p.Start("b", "")

		p.Reset()

		assert.Empty(t, p.Snapshot())
		assert.False(t, p.IsAnyLoading())
	})
}

func TestErrors_Tracking(t *testing.T) {
	t.Run("Should record and clear failures per key", func(t *testing.T) {
		e := NewErrors()
		e.SetError("users", "timeout", 3, 3)

		state, ok := e.Get("users")
		require.True(t, ok)
		assert.True(t, state.HasError)
		assert.Equal(t, "timeout", state.Message)
		assert.Equal(t, 3, state.RetryCount)
		assert.Equal(t, 3, state.MaxRetries)
		assert.True(t, e.HasAnyErrors())

		e.Clear("users")
		_, ok = e.Get("users")
		assert.False(t, ok)
		assert.False(t, e.HasAnyErrors())
	})

	t.Run("Should allow retry only while attempts remain", func(t *testing.T) {
		e := NewErrors()
		e.SetError("exhausted", "timeout", 3, 3)
		e.SetError("short-circuited", "bad request", 1, 3)

		assert.False(t, e.CanRetry("exhausted"))
		assert.True(t, e.CanRetry("short-circuited"))
		assert.False(t, e.CanRetry("missing"))
	})

	t.Run("Should snapshot and reset tracked failures", func(t *testing.T) {
		e := NewErrors()
		e.SetError("a", "boom", 1, 2)
		e.SetError("b", "boom", 2, 2)

		snapshot := e.Snapshot()
		assert.Len(t, snapshot, 2)

		e.Reset()
		assert.Empty(t, e.Snapshot())
		assert.False(t, e.HasAnyErrors())
	})
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	t.Run("Should stay consistent under concurrent writers and readers", func(t *testing.T) {
		p := NewProgress()
		e := NewErrors()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				key := fmt.Sprintf("task-%d", worker)
				p.Start(key, "loading")
				for percent := 0; percent <= 100; percent += 10 {
					p.SetProgress(key, float64(percent), "")
					p.IsAnyLoading()
					p.OverallProgress()
				}
				p.Complete(key, "done")
				e.SetError(key, "transient", 1, 3)
				e.CanRetry(key)
				e.Clear(key)
			}(i)
		}
		wg.Wait()

		assert.False(t, p.IsAnyLoading())
		assert.InDelta(t, 100.0, p.OverallProgress(), 0.001)
		assert.False(t, e.HasAnyErrors())
		assert.Len(t, p.Snapshot(), 8)
	})
}
