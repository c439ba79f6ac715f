package core_test

import (
	"testing"

	"github.com/resily/resily/engine/core"
	"github.com/stretchr/testify/assert"
)

func TestStatusType_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   core.StatusType
		terminal bool
	}{
		{name: "pending is not terminal", status: core.StatusPending, terminal: false},
		{name: "running is not terminal", status: core.StatusRunning, terminal: false},
		{name: "success is terminal", status: core.StatusSuccess, terminal: true},
		{name: "failed is terminal", status: core.StatusFailed, terminal: true},
		{name: "skipped is terminal", status: core.StatusSkipped, terminal: true},
		{name: "canceled is terminal", status: core.StatusCanceled, terminal: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestStatusType_IsFailure(t *testing.T) {
	t.Run("Should report failure only for failed status", func(t *testing.T) {
		assert.True(t, core.StatusFailed.IsFailure())
		assert.False(t, core.StatusSuccess.IsFailure())
		assert.False(t, core.StatusSkipped.IsFailure())
	})
}

func TestStatusFromResult(t *testing.T) {
	t.Run("Should map success to SUCCESS", func(t *testing.T) {
		assert.Equal(t, core.StatusSuccess, core.StatusFromResult(true))
	})
	t.Run("Should map failure to FAILED", func(t *testing.T) {
		assert.Equal(t, core.StatusFailed, core.StatusFromResult(false))
	})
}
