package challenge

import (
	"sync"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// solve builds the correct response for c.
func solve(c Challenge) Response {
	switch c.Kind {
	case KindMath:
		v := float64(c.Math.Answer)
		return Response{Answer: &v}
	case KindImageSet:
		return Response{Selected: append([]int(nil), c.ImageSet.CorrectIndices...)}
	default:
		v := c.Slider.Target
		return Response{Value: &v}
	}
}

// wrong builds a response that cannot solve c.
func wrong(c Challenge) Response {
	switch c.Kind {
	case KindMath:
		v := float64(c.Math.Answer + 1000)
		return Response{Answer: &v}
	case KindImageSet:
		return Response{Selected: []int{}}
	default:
		v := c.Slider.Target + 50
		return Response{Value: &v}
	}
}
