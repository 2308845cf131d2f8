package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerSampleSpeed(t *testing.T) {
	t0 := time.Unix(0, 0)
	tr := NewTracker(1000, time.Second, t0)

	tr.Add(200)
	assert.False(t, tr.Due(t0.Add(500*time.Millisecond)))
	assert.True(t, tr.Due(t0.Add(time.Second)))

	p := tr.Sample(t0.Add(time.Second))
	assert.InDelta(t, 0.2, p.Progress, 1e-9)
	assert.EqualValues(t, 200, p.BytesReceived)
	assert.EqualValues(t, 1000, p.TotalBytes)
	assert.InDelta(t, 200, p.Speed, 1e-9)

	tr.Add(100)
	p = tr.Sample(t0.Add(1500 * time.Millisecond))
	assert.InDelta(t, 200, p.Speed, 1e-9)
}

func TestTrackerPeekDegradesDuringStall(t *testing.T) {
	t0 := time.Unix(0, 0)
	tr := NewTracker(UnknownTotal, time.Second, t0)
	tr.Add(1000)

	first := tr.Peek(t0.Add(time.Second))
	second := tr.Peek(t0.Add(5 * time.Second))
	third := tr.Peek(t0.Add(10 * time.Second))

	assert.Greater(t, first.Speed, second.Speed)
	assert.Greater(t, second.Speed, third.Speed)
	assert.Equal(t, first.BytesReceived, third.BytesReceived)
	assert.Zero(t, first.Progress)
	assert.Equal(t, UnknownTotal, first.TotalBytes)
}

func TestTrackerFinal(t *testing.T) {
	t0 := time.Unix(0, 0)

	known := NewTracker(300, time.Second, t0)
	known.Add(300)
	p := known.Final(t0.Add(time.Second))
	assert.Equal(t, 1.0, p.Progress)
	assert.Equal(t, p.TotalBytes, p.BytesReceived)

	unknown := NewTracker(UnknownTotal, time.Second, t0)
	unknown.Add(123)
	p = unknown.Final(t0.Add(time.Second))
	assert.Equal(t, 1.0, p.Progress)
	assert.EqualValues(t, 123, p.TotalBytes)
	assert.EqualValues(t, 123, p.BytesReceived)
}

func TestTrackerProgressClamped(t *testing.T) {
	tr := NewTracker(10, time.Second, time.Unix(0, 0))
	tr.Add(20)
	assert.Equal(t, 1.0, tr.Peek(time.Unix(1, 0)).Progress)
}
