package progress

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndicator(t *testing.T) {
	t.Run("should walk steps and clamp percentages", func(t *testing.T) {
		sink := NewChannelSink(64)
		p := NewIndicator("imp-1", sink)
		p.AddStep("transposing")
		p.AddStep("importing")
		assert.Equal(t, "transposing", p.CurrentStep())

		p.SetPercent(150)
		assert.Equal(t, 100, p.Snapshot().Percent)

		p.NextStep()
		assert.Equal(t, "importing", p.CurrentStep())
		assert.Equal(t, 0, p.Snapshot().Percent)

		p.MarkComplete()
		assert.True(t, p.IsComplete())
		assert.Greater(t, len(sink.C), 0)
	})

	t.Run("should keep the first error and raise the abort flag", func(t *testing.T) {
		p := NewIndicator("imp-2", nil)
		assert.False(t, p.IsAborted())

		p.Abort(errors.New("boom"))
		p.SetError("second")

		assert.True(t, p.IsAborted())
		assert.Equal(t, "boom", p.Error())
	})

	t.Run("should never block on a full sink", func(t *testing.T) {
		sink := NewChannelSink(1)
		p := NewIndicator("imp-3", sink)
		for i := 0; i < 100; i++ {
			p.SetCount(int64(i))
		}
		assert.Greater(t, sink.Dropped(), int64(0))
	})
}
