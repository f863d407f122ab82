package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogpool/rpcpool/internal/core/domain"
)

func newRequest(deadline time.Time) *domain.Request {
	return domain.NewRequest("getSlot", json.RawMessage("{}"), domain.CallOptions{}, deadline)
}

func TestBounded_RejectsAtCapacity(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Enqueue(newRequest(time.Now().Add(time.Second))))
	require.NoError(t, q.Enqueue(newRequest(time.Now().Add(time.Second))))

	err := q.Enqueue(newRequest(time.Now().Add(time.Second)))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Len())
}

func TestBounded_DrainAdmitsAndRemovesEntries(t *testing.T) {
	q := New(5)
	require.NoError(t, q.Enqueue(newRequest(time.Now().Add(time.Second))))
	require.NoError(t, q.Enqueue(newRequest(time.Now().Add(time.Second))))

	admitted := 0
	q.Drain(func(req *domain.Request) bool {
		admitted++
		return true
	})

	assert.Equal(t, 2, admitted)
	assert.Equal(t, 0, q.Len())
}

func TestBounded_DrainRejectsExpiredEntries(t *testing.T) {
	q := New(5)
	clock := time.Now()
	q.now = func() time.Time { return clock }

	expired := newRequest(clock.Add(-time.Millisecond))
	fresh := newRequest(clock.Add(time.Hour))
	require.NoError(t, q.Enqueue(expired))
	require.NoError(t, q.Enqueue(fresh))

	q.Drain(func(req *domain.Request) bool { return false })

	assert.Equal(t, domain.StateExpired, expired.State)
	assert.Equal(t, 1, q.Len())
}

func TestBounded_ShutdownRejectsFurtherAdmissionAndClearsEntries(t *testing.T) {
	q := New(5)
	req := newRequest(time.Now().Add(time.Second))
	require.NoError(t, q.Enqueue(req))

	q.Shutdown()

	assert.Equal(t, domain.StateFailed, req.State)
	assert.Equal(t, 0, q.Len())

	err := q.Enqueue(newRequest(time.Now().Add(time.Second)))
	assert.ErrorIs(t, err, ErrPoolDestroyed)
}

func TestBounded_ShutdownIsIdempotent(t *testing.T) {
	q := New(5)
	q.Shutdown()
	assert.NotPanics(t, func() { q.Shutdown() })
}
