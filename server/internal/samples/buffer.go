package samples

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/alertengine/pkg/types"
)

// Buffer is a thread-safe in-memory series store.
type Buffer struct {
	mu        sync.RWMutex
	series    map[string][]types.Sample // key: workspace/metric, ordered by time
	retention time.Duration
	now       func() time.Time // injectable for deterministic tests
}

// NewBuffer returns a Buffer that keeps samples for retention.
func NewBuffer(retention time.Duration) *Buffer {
	return &Buffer{
		series:    make(map[string][]types.Sample),
		retention: retention,
		now:       time.Now,
	}
}

// SetNow replaces the buffer's time source.
func (b *Buffer) SetNow(now func() time.Time) { b.now = now }

func seriesKey(workspaceID, metric string) string { return workspaceID + "/" + metric }

// Append adds samples to a series, keeping it ordered by timestamp.
func (b *Buffer) Append(workspaceID, metric string, samples ...types.Sample) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := seriesKey(workspaceID, metric)
	s := append(b.series[key], samples...)
	if !sort.SliceIsSorted(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) }) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })
	}
	b.series[key] = s
}

// Window returns the samples of a series with timestamps in (now-d, now],
// oldest first.
func (b *Buffer) Window(_ context.Context, workspaceID, metric string, d time.Duration) (types.Window, error) {
	now := b.now()
	from := now.Add(-d)

	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.series[seriesKey(workspaceID, metric)]
	start := sort.Search(len(s), func(i int) bool { return s[i].Timestamp.After(from) })
	out := make(types.Window, 0, len(s)-start)
	for _, sm := range s[start:] {
		if sm.Timestamp.After(now) {
			break
		}
		out = append(out, sm)
	}
	return out, nil
}

// Evict drops samples older than now minus retention and removes empty
// series. It returns the number of samples dropped.
func (b *Buffer) Evict(now time.Time) int {
	cutoff := now.Add(-b.retention)
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for key, s := range b.series {
		i := sort.Search(len(s), func(i int) bool { return !s[i].Timestamp.Before(cutoff) })
		if i == 0 {
			continue
		}
		dropped += i
		if i == len(s) {
			delete(b.series, key)
			continue
		}
		b.series[key] = append([]types.Sample(nil), s[i:]...)
	}
	return dropped
}

// Len returns the number of series held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.series)
}
