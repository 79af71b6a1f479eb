package sink

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/librescoot/fpv-bridge/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLSinkWritesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	s, err := NewJSONLSink(path, 32, 16)
	require.NoError(t, err)

	s.Lifecycle("online", "", time.Now())
	s.Counters(metrics.Snapshot{TxFrames: 5}, time.Now())
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestJSONLSinkRotatesOnSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	s, err := NewJSONLSink(path, 0, 16) // maxBytes computed as 0*1MB; rotation check is size>0 guarded, so force via direct field
	require.NoError(t, err)
	s.maxBytes = 10 // tiny, forces rotation almost immediately
	for i := 0; i < 5; i++ {
		s.Lifecycle("online", "detail-padding-to-exceed-ten-bytes", time.Now())
	}
	require.NoError(t, s.Close())

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "expected a rotated sibling file to exist")
}

func TestJSONLSinkDropsWhenQueueFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	s, err := NewJSONLSink(path, 32, 1)
	require.NoError(t, err)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Lifecycle("online", "", time.Now())
		}()
	}
	wg.Wait()
	// No assertion on the exact dropped count (racy by nature); the
	// important property is that none of the 100 concurrent calls blocked
	// or panicked.
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	written   map[string]string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{written: map[string]string{}}
}

func (f *fakePublisher) WriteAndPublishString(key, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[field] = value
	return nil
}

func (f *fakePublisher) Publish(channel, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, message)
	return nil
}

func TestRedisSinkPublishesLifecycleAndCounters(t *testing.T) {
	pub := newFakePublisher()
	s := NewRedisSink(pub, "fpv-bridge:state", "fpv-bridge:lifecycle", 16)
	defer s.Close()

	s.Lifecycle("failsafe_enter", "stale_input", time.Now())
	s.Counters(metrics.Snapshot{TxFrames: 42}, time.Now())

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.published) == 1 && pub.written["tx_frames"] == "42"
	}, 200*time.Millisecond, 2*time.Millisecond)
}

func TestFanoutBroadcastsToAllMembers(t *testing.T) {
	pub1 := newFakePublisher()
	pub2 := newFakePublisher()
	s1 := NewRedisSink(pub1, "k", "ch", 16)
	s2 := NewRedisSink(pub2, "k", "ch", 16)
	defer s1.Close()
	defer s2.Close()

	f := NewFanout(s1, s2)
	f.Lifecycle("online", "", time.Now())

	require.Eventually(t, func() bool {
		pub1.mu.Lock()
		pub2.mu.Lock()
		defer pub1.mu.Unlock()
		defer pub2.mu.Unlock()
		return len(pub1.published) == 1 && len(pub2.published) == 1
	}, 200*time.Millisecond, 2*time.Millisecond)
}
