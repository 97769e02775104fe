package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jusunglee/train-schedules/internal/feed"
	"github.com/jusunglee/train-schedules/internal/logger"
	"github.com/jusunglee/train-schedules/internal/models"
	"github.com/jusunglee/train-schedules/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeFetcher replays a queue of results and counts calls
type fakeFetcher struct {
	calls   atomic.Int32
	mu      sync.Mutex
	results []error
	started chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]feed.MonitoredStopVisit, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}

	f.mu.Lock()
	var err error
	if len(f.results) > 0 {
		err, f.results = f.results[0], f.results[1:]
	}
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return testVisits(), nil
}

func ref(s string) *string { return &s }

func testVisits() []feed.MonitoredStopVisit {
	at := time.Date(2024, 1, 3, 16, 5, 0, 0, time.UTC)
	return []feed.MonitoredStopVisit{
		{MonitoredVehicleJourney: feed.MonitoredVehicleJourney{
			VehicleRef:    ref("101"),
			MonitoredCall: feed.MonitoredCall{StopPointRef: "70012", ExpectedArrivalTime: &at, ExpectedDepartureTime: &at},
		}},
	}
}

var testSchedule = store.New([]models.Station{
	{ID: 1, Name: "San Francisco", StopCodes: []string{"70011", "70012"}},
	{ID: 2, Name: "22nd Street", StopCodes: []string{"70021", "70022"}},
}, nil, nil)

type recordingPublisher struct {
	mu    sync.Mutex
	calls int
}

func (p *recordingPublisher) PublishLive(_ context.Context, _ []models.LiveStop) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return nil
}

func newTestCache(f Fetcher, opts ...Option) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewCache(f, NewMerger(testSchedule, time.UTC), logger.Nop(), opts...), clock
}

func TestCacheTTL(t *testing.T) {
	f := &fakeFetcher{}
	pub := &recordingPublisher{}
	c, clock := newTestCache(f, WithPublisher(pub))
	ctx := context.Background()

	stops, err := c.Live(ctx)
	require.NoError(t, err)
	require.Len(t, stops, 1)
	assert.Equal(t, int64(1), stops[0].StationID)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, pub.calls)

	clock.Advance(119 * time.Second)
	_, err = c.Live(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load(), "still fresh")

	_, ok := c.Get(clock.Now())
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get(clock.Now())
	assert.False(t, ok, "expires at exactly the TTL")

	_, err = c.Live(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestCacheRateLimitCooldown(t *testing.T) {
	f := &fakeFetcher{results: []error{feed.ErrRateLimited}}
	pub := &recordingPublisher{}
	c, clock := newTestCache(f, WithPublisher(pub))
	ctx := context.Background()

	stops, err := c.Live(ctx)
	require.NoError(t, err, "429 is not an error")
	assert.Empty(t, stops)
	assert.NotNil(t, stops)

	clock.Advance(59 * time.Second)
	stops, err = c.Live(ctx)
	require.NoError(t, err)
	assert.Empty(t, stops)
	assert.Equal(t, int32(1), f.calls.Load(), "no request during cooldown")

	clock.Advance(2 * time.Second)
	stops, err = c.Live(ctx)
	require.NoError(t, err)
	assert.Len(t, stops, 1)
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, 1, pub.calls, "only successful fetches are published")
}

func TestCacheHardFailureKeepsStaleSlot(t *testing.T) {
	boom := errors.New("connection reset")
	f := &fakeFetcher{results: []error{nil, boom}}
	c, clock := newTestCache(f)
	ctx := context.Background()

	_, err := c.Live(ctx)
	require.NoError(t, err)
	updated := c.Updated()

	clock.Advance(3 * time.Minute)
	_, err = c.Live(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, updated, c.Updated(), "slot not overwritten")

	_, ok := c.Get(clock.Now())
	assert.False(t, ok, "still stale")

	stops, err := c.Live(ctx)
	require.NoError(t, err, "next request retries")
	assert.Len(t, stops, 1)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestCacheSingleFlight(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"failure", errors.New("HTTP 503")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeFetcher{
				results: []error{tc.err},
				started: make(chan struct{}, 1),
				release: make(chan struct{}),
			}
			c, _ := newTestCache(f)

			const n = 20
			var (
				wg      sync.WaitGroup
				ready   sync.WaitGroup
				results = make([][]models.LiveStop, n)
				errs    = make([]error, n)
			)
			ready.Add(n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ready.Done()
					results[i], errs[i] = c.Live(context.Background())
				}(i)
			}

			ready.Wait()
			<-f.started
			// let every caller queue on the lock before the fetch completes
			time.Sleep(50 * time.Millisecond)
			close(f.release)
			wg.Wait()

			assert.Equal(t, int32(1), f.calls.Load())
			for i := 0; i < n; i++ {
				if tc.err != nil {
					assert.ErrorIs(t, errs[i], tc.err)
					continue
				}
				require.NoError(t, errs[i])
				assert.Equal(t, results[0], results[i])
			}
		})
	}
}

func TestCacheCancelledContext(t *testing.T) {
	f := &fakeFetcher{}
	c, _ := newTestCache(f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Live(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), f.calls.Load())
}

type countingMetrics struct {
	hits, misses int
	outcomes     []string
}

func (m *countingMetrics) CacheHit()  { m.hits++ }
func (m *countingMetrics) CacheMiss() { m.misses++ }
func (m *countingMetrics) RefreshObserve(outcome string, _ time.Duration, _ int) {
	m.outcomes = append(m.outcomes, outcome)
}

func TestCacheMetrics(t *testing.T) {
	f := &fakeFetcher{results: []error{nil, feed.ErrRateLimited, errors.New("bad gateway")}}
	m := &countingMetrics{}
	c, clock := newTestCache(f, WithMetrics(m))
	ctx := context.Background()

	c.Live(ctx)
	c.Live(ctx)
	clock.Advance(DefaultTTL)
	c.Live(ctx)
	clock.Advance(DefaultCooldown)
	c.Live(ctx)

	assert.Equal(t, 1, m.hits)
	assert.Equal(t, 3, m.misses)
	assert.Equal(t, []string{OutcomeOK, OutcomeRateLimited, OutcomeError}, m.outcomes)
}
