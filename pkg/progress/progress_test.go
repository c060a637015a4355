package progress_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fwupdcore/pkg/progress"
)

func TestWeightedChildrenAverage(t *testing.T) {
	root := progress.New()
	detach := root.AddStep(1)
	write := root.AddStep(5)
	attach := root.AddStep(1)

	detach.SetPercent(100)
	attach.SetPercent(100)
	write.SetPercent(40)

	// (1*100 + 5*40 + 1*100) / 7 = 400/7 ~= 57.14
	assert.InDelta(t, 57.14, root.Percent(), 0.1)
}

func TestSetPercentClamps(t *testing.T) {
	p := progress.New()
	p.SetPercent(150)
	assert.Equal(t, 100.0, p.Percent())

	p.SetPercent(-10)
	assert.Equal(t, 0.0, p.Percent())
}

func TestOnChangeFiresOnStepAndPercent(t *testing.T) {
	p := progress.New()
	var calls int
	p.OnChange(func(*progress.Progress) { calls++ })

	p.SetStep(progress.StepWrite)
	p.SetPercent(50)

	assert.Equal(t, 2, calls)
}
