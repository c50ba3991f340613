package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AdvanceFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []int
	var seenAt []time.Time
	c.AfterFunc(2*time.Minute, func() { order = append(order, 2); seenAt = append(seenAt, c.Now()) })
	c.AfterFunc(1*time.Minute, func() { order = append(order, 1); seenAt = append(seenAt, c.Now()) })
	c.AfterFunc(5*time.Minute, func() { order = append(order, 5) })

	c.Advance(3 * time.Minute)

	assert.Equal(t, []int{1, 2}, order)
	require.Len(t, seenAt, 2)
	assert.Equal(t, start.Add(time.Minute), seenAt[0])
	assert.Equal(t, start.Add(2*time.Minute), seenAt[1])
	assert.Equal(t, start.Add(3*time.Minute), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop(), "second Stop should report already stopped")

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFake_TimerArmedInsideCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var fires int
	c.AfterFunc(time.Second, func() {
		fires++
		c.AfterFunc(time.Second, func() { fires++ })
	})

	c.Advance(5 * time.Second)
	assert.Equal(t, 2, fires)
}

func TestFake_After(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ch := c.After(time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}
	c.Advance(time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, time.Unix(1, 0), got)
	default:
		t.Fatal("After did not fire")
	}
}
