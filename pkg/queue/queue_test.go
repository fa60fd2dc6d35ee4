package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type window struct {
	Symbol string `json:"symbol"`
	At     int64  `json:"at"`
}

type recordingJob struct {
	mu    sync.Mutex
	got   []window
	fails int
	done  chan struct{}
}

func (j *recordingJob) Name() string { return "recording" }
func (j *recordingJob) Type() string { return "test.window" }

func (j *recordingJob) Handle(_ context.Context, payload interface{}) error {
	w, err := ParsePayload[window](payload)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fails > 0 {
		j.fails--
		return errors.New("upstream down")
	}
	j.got = append(j.got, *w)
	if j.done != nil {
		close(j.done)
		j.done = nil
	}
	return nil
}

func TestParsePayload(t *testing.T) {
	raw := json.RawMessage(`{"symbol":"ETH/USD","at":1718000000}`)
	w, err := ParsePayload[window](raw)
	require.NoError(t, err)
	assert.Equal(t, window{Symbol: "ETH/USD", At: 1718000000}, *w)

	w, err = ParsePayload[window](map[string]interface{}{"symbol": "BTC/USD", "at": 5})
	require.NoError(t, err)
	assert.Equal(t, int64(5), w.At)

	w, err = ParsePayload[window](window{Symbol: "X"})
	require.NoError(t, err)
	assert.Equal(t, "X", w.Symbol)

	_, err = ParsePayload[window](42)
	assert.Error(t, err)
	_, err = ParsePayload[window](json.RawMessage(`{`))
	assert.Error(t, err)
}

func TestProcessDispatchesToJob(t *testing.T) {
	q := NewRedisQueue(nil, Config{Workers: 1}, nil)
	job := &recordingJob{}
	q.RegisterJob(job)

	q.process([]byte(`{"id":"1","type":"test.window","payload":{"symbol":"ETH/USD","at":7}}`))
	require.Len(t, job.got, 1)
	assert.Equal(t, int64(7), job.got[0].At)
}

func TestEnqueueRequiresRunningQueue(t *testing.T) {
	q := NewRedisQueue(nil, Config{}, nil)
	assert.Equal(t, ModeProducerOnly, q.mode)
	assert.Error(t, q.Enqueue(context.Background(), "test.window", window{}))
}

func TestRedisQueueRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	prefix := "streampull:test:" + time.Now().Format("150405.000")
	q := NewRedisQueue(nil, Config{Workers: 1, RetryLimit: 2, RetryDelay: time.Second, PollEvery: 100 * time.Millisecond},
		client, WithKeyPrefix(prefix), WithBlockTimeout(100*time.Millisecond))
	job := &recordingJob{fails: 1, done: make(chan struct{})}
	q.RegisterJob(job)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	defer func() {
		_ = q.Stop(ctx)
		client.Del(ctx, q.queueKey(), q.retryKey(), q.deadLetterKey())
	}()

	require.NoError(t, q.Enqueue(ctx, "test.window", window{Symbol: "ETH/USD", At: 1}))
	assert.Error(t, q.Enqueue(ctx, "unknown", nil))

	select {
	case <-job.done:
	case <-time.After(5 * time.Second):
		t.Fatal("job not retried")
	}

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Dead)
}
