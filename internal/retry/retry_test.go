package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexanderSatryo135/myDrive/internal/logging"
)

var fast = Backoff{Attempts: 4, Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}

func TestDoSucceedsAfterFailures(t *testing.T) {
	logging.InitNop()
	calls := 0
	got, err := Do(context.Background(), fast, "test", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUp(t *testing.T) {
	logging.InitNop()
	calls := 0
	boom := errors.New("boom")
	_, err := Do(context.Background(), fast, "test", func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, fast.Attempts, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	logging.InitNop()
	calls := 0
	bad := errors.New("bad config")
	_, err := Do(context.Background(), fast, "test", func(context.Context) (int, error) {
		calls++
		return 0, Permanent(bad)
	})
	assert.Equal(t, bad, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, Permanent(nil))
}

func TestDoHonorsContext(t *testing.T) {
	logging.InitNop()
	ctx, cancel := context.WithCancel(context.Background())
	b := Backoff{Initial: time.Hour, Factor: 1}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, b, "test", func(context.Context) (int, error) {
			return 0, errors.New("down")
		})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDelay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	assert.Equal(t, 100*time.Millisecond, b.delay(1))
	assert.Equal(t, 400*time.Millisecond, b.delay(3))
	assert.Equal(t, time.Second, b.delay(10))
}
