package chaos

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propmock/internal/domain/eventbus"
	"propmock/internal/platform/errors"
)

type recordedSleep struct {
	calls []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return nil
}

func newController(t *testing.T, cfg Config) (*Controller, *recordedSleep) {
	t.Helper()
	rec := &recordedSleep{}
	c, err := New(Options{Initial: &cfg, Rand: rand.NewPCG(1, 2), Sleep: rec.sleep})
	require.NoError(t, err)
	return c, rec
}

func ptr[T any](v T) *T { return &v }

func TestDefaults(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, Config{LatencyMs: 150}, c.Config())
}

func TestDelay(t *testing.T) {
	c, rec := newController(t, Config{LatencyMs: 100})
	_, err := c.Gate(context.Background())
	require.NoError(t, err)

	_, err = c.UpdateConfig(Patch{SlowNetwork: ptr(true)})
	require.NoError(t, err)
	_, err = c.Gate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 300 * time.Millisecond}, rec.calls)
}

func TestZeroLatencySkipsSleep(t *testing.T) {
	c, rec := newController(t, Config{})
	_, err := c.Gate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rec.calls)
}

func TestErrorModeAlwaysFails(t *testing.T) {
	c, _ := newController(t, Config{ErrorMode: true})
	for i := 0; i < 500; i++ {
		f, err := c.Gate(context.Background())
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Contains(t, FailureStatuses, f.Status)
		assert.NotEmpty(t, f.Message)
	}
}

func TestZeroErrorRateNeverFails(t *testing.T) {
	c, _ := newController(t, Config{})
	for i := 0; i < 500; i++ {
		f, err := c.Gate(context.Background())
		require.NoError(t, err)
		require.Nil(t, f)
	}
}

func TestErrorRateIsRoughlyHonoured(t *testing.T) {
	c, _ := newController(t, Config{ErrorRate: 0.3})
	failures := 0
	const n = 2000
	for i := 0; i < n; i++ {
		f, err := c.Gate(context.Background())
		require.NoError(t, err)
		if f != nil {
			failures++
		}
	}
	assert.InDelta(t, 0.3, float64(failures)/n, 0.05)
}

func TestEveryStatusIsReachable(t *testing.T) {
	c, _ := newController(t, Config{ErrorMode: true})
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		f, _ := c.Gate(context.Background())
		seen[f.Status] = true
	}
	assert.Len(t, seen, len(FailureStatuses))
}

func TestGateHonoursContext(t *testing.T) {
	c, err := New(Options{Initial: &Config{LatencyMs: 10_000}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, err := c.Gate(ctx)
	assert.Nil(t, f)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpdateConfigValidation(t *testing.T) {
	c, _ := newController(t, Config{LatencyMs: 50})

	_, err := c.UpdateConfig(Patch{ErrorRate: ptr(1.5)})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindChaos))

	_, err = c.UpdateConfig(Patch{LatencyMs: ptr(-1)})
	require.Error(t, err)

	// rejected updates leave the configuration untouched
	assert.Equal(t, Config{LatencyMs: 50}, c.Config())

	got, err := c.UpdateConfig(Patch{ErrorRate: ptr(1.0), ErrorMode: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, Config{LatencyMs: 50, ErrorRate: 1, ErrorMode: true}, got)
}

func TestNewRejectsInvalidInitial(t *testing.T) {
	_, err := New(Options{Initial: &Config{ErrorRate: -0.1}})
	assert.Error(t, err)
	_, err = New(Options{Initial: &Config{ErrorRate: math.NaN()}})
	assert.Error(t, err)
}

func TestNaNErrorRateIsRejected(t *testing.T) {
	c, _ := newController(t, Config{LatencyMs: 50})

	_, err := c.UpdateConfig(Patch{ErrorRate: ptr(math.NaN())})
	require.Error(t, err)
	_, err = c.Replace(Config{ErrorRate: math.NaN()})
	require.Error(t, err)
	assert.Equal(t, Config{LatencyMs: 50}, c.Config())

	failure, err := c.Gate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, failure)
}

func TestEventsArePublished(t *testing.T) {
	bus := eventbus.New()
	var topics []string
	require.NoError(t, bus.SubscribeAll(func(evt eventbus.Event) { topics = append(topics, evt.Topic) }))

	c, err := New(Options{Initial: &Config{}, Bus: bus})
	require.NoError(t, err)

	_, err = c.Replace(Config{ErrorMode: true})
	require.NoError(t, err)
	f, _ := c.Gate(context.Background())
	c.Injected("GET", "/api/properties", f)

	assert.Equal(t, []string{eventbus.TopicChaosUpdated, eventbus.TopicChaosInjected}, topics)
}
