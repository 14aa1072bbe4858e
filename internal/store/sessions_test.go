package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/mentor-labs/internal/domain"
	"github.com/ashureev/mentor-labs/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBackend struct {
	err error
}

func (f *failingBackend) Load(context.Context, string) (Document, error) { return nil, f.err }
func (f *failingBackend) Update(context.Context, string, UpdateFunc) error {
	return f.err
}
func (f *failingBackend) DeleteExpired(context.Context, time.Duration) (int64, error) {
	return 0, f.err
}
func (f *failingBackend) Ping(context.Context) error { return f.err }
func (f *failingBackend) Close() error               { return nil }

func TestSessionsGetMissingIsEmpty(t *testing.T) {
	s := NewSessions(NewMemory(), nil)

	sess := s.Get(context.Background(), "fresh")
	require.NotNil(t, sess)
	assert.Equal(t, "fresh", sess.ID)
	assert.Nil(t, sess.Analysis)
	assert.Equal(t, domain.StateEmpty, sess.State())
}

func TestSessionsGetSwallowsBackendFailure(t *testing.T) {
	s := NewSessions(&failingBackend{err: unavailable("load", errors.New("disk gone"))}, nil)
	before := testutil.ToFloat64(metrics.StoreErrors.WithLabelValues("get", "unavailable"))

	sess := s.Get(context.Background(), "s1")
	require.NotNil(t, sess)
	assert.Nil(t, sess.Analysis)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.StoreErrors.WithLabelValues("get", "unavailable")))
}

func TestSessionsMergeSwallowsBackendFailure(t *testing.T) {
	s := NewSessions(&failingBackend{err: unavailable("update", errors.New("disk gone"))}, nil)
	before := testutil.ToFloat64(metrics.StoreErrors.WithLabelValues("merge", "unavailable"))

	assert.NotPanics(t, func() {
		s.Merge(context.Background(), "s1", Patch{domain.KeyChosenPath: "p"})
	})
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.StoreErrors.WithLabelValues("merge", "unavailable")))
}

func TestSessionsMergeIsShallowUpsertWithDeleteSentinel(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	s := NewSessions(backend, nil)

	s.Merge(ctx, "s1", Patch{
		domain.KeyAnalysis:   domain.Analysis{LearningGoal: "Learn X", PreferredStyles: []string{"visual"}},
		domain.KeyChosenPath: "Core Concepts",
		domain.KeyFinalSummary: &domain.Summary{
			Recap: "r",
		},
	})

	s.Merge(ctx, "s1", Patch{
		domain.KeyFinalSummary:       Delete,
		domain.KeyCurrentInteraction: nil,
	})

	doc, err := backend.Load(ctx, "s1")
	require.NoError(t, err)
	_, hasSummary := doc[domain.KeyFinalSummary]
	assert.False(t, hasSummary, "delete sentinel must remove the key")
	assert.JSONEq(t, `null`, string(doc[domain.KeyCurrentInteraction]), "nil must store a JSON null")
	assert.JSONEq(t, `"Core Concepts"`, string(doc[domain.KeyChosenPath]), "untouched keys survive")

	sess := s.Get(ctx, "s1")
	require.NotNil(t, sess.Analysis)
	assert.Equal(t, "Learn X", sess.Analysis.LearningGoal)
	assert.Nil(t, sess.CurrentInteraction)
	assert.Nil(t, sess.FinalSummary)
}

func TestSessionsLockSerializesSameSession(t *testing.T) {
	s := NewSessions(NewMemory(), nil)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("shared")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.locks, "released locks are dropped")
}

func TestSessionsLockDoesNotBlockOtherSessions(t *testing.T) {
	s := NewSessions(NewMemory(), nil)
	unlockA := s.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := s.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another session blocked")
	}
}
