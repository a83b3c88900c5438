package scheduler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionSentinel/internal/model"
)

func TestActivityLog_NewestFirstAndBounded(t *testing.T) {
	a := NewActivityLog(3)
	for i := 1; i <= 5; i++ {
		a.Add(model.LevelInfo, fmt.Sprintf("entry %d", i))
	}

	got := a.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, "entry 5", got[0].Message)
	assert.Equal(t, "entry 3", got[2].Message)

	assert.Len(t, a.Recent(2), 2)
	last, ok := a.Last()
	require.True(t, ok)
	assert.Equal(t, "entry 5", last.Message)
	assert.NotEmpty(t, last.ID)
}

func TestActivityLog_Subscribe(t *testing.T) {
	a := NewActivityLog(10)
	ch, cancel := a.Subscribe(4)

	a.Addf(model.LevelTrade, "BUY opened at %.2f", 100.0)
	entry := <-ch
	assert.Equal(t, "BUY opened at 100.00", entry.Message)
	assert.Equal(t, model.LevelTrade, entry.Level)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	assert.NotPanics(t, func() { a.Add(model.LevelInfo, "after cancel") })
}

func TestActivityLog_SlowSubscriberDoesNotBlock(t *testing.T) {
	a := NewActivityLog(10)
	_, cancel := a.Subscribe(1)
	defer cancel()
	for i := 0; i < 5; i++ {
		a.Add(model.LevelInfo, "x")
	}
	assert.Len(t, a.Recent(0), 5)
}
