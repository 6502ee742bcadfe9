package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_CreatesAndReuses(t *testing.T) {
	s := NewStore(Config{}, nil)

	a, release := s.Acquire("alice")
	a.Append(Turn{Question: "q1", Answer: "a1"})
	release()

	again, release := s.Acquire("alice")
	defer release()
	assert.Same(t, a, again)
	assert.Equal(t, "alice", again.ID())
	assert.Equal(t, 1, s.Len())

	turns := again.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "q1", turns[0].Question)
	assert.False(t, turns[0].At.IsZero())
}

func TestSessions_AreIsolated(t *testing.T) {
	s := NewStore(Config{}, nil)

	a, ra := s.Acquire("a")
	a.Append(Turn{Question: "from a"})
	ra()

	b, rb := s.Acquire("b")
	defer rb()
	assert.Empty(t, b.Turns())
	assert.Equal(t, 2, s.Len())
}

func TestTurns_ReturnsCopy(t *testing.T) {
	s := NewStore(Config{}, nil)
	sess, release := s.Acquire("x")
	defer release()
	sess.Append(Turn{Question: "original"})

	turns := sess.Turns()
	turns[0].Question = "mutated"
	assert.Equal(t, "original", sess.Turns()[0].Question)
}

func TestAppend_DropsOldestBeyondMaxTurns(t *testing.T) {
	s := NewStore(Config{MaxTurns: 3}, nil)
	sess, release := s.Acquire("x")
	defer release()

	for i := 0; i < 5; i++ {
		sess.Append(Turn{Question: fmt.Sprintf("q%d", i)})
	}

	turns := sess.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "q2", turns[0].Question)
	assert.Equal(t, "q4", turns[2].Question)
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s := NewStore(Config{MaxSessions: 2}, nil)

	for _, id := range []string{"a", "b"} {
		_, release := s.Acquire(id)
		release()
	}
	// use "a" so "b" becomes the oldest
	_, release := s.Acquire("a")
	release()
	_, release = s.Acquire("c")
	release()

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("b")
	assert.False(t, ok)
	_, ok = s.Get("a")
	assert.True(t, ok)
}

func TestStore_ExpiresIdleSessions(t *testing.T) {
	s := NewStore(Config{TTL: 50 * time.Millisecond}, nil)

	sess, release := s.Acquire("idle")
	sess.Append(Turn{Question: "q"})
	release()

	assert.Eventually(t, func() bool {
		_, ok := s.Get("idle")
		return !ok
	}, time.Second, 10*time.Millisecond)

	fresh, release := s.Acquire("idle")
	defer release()
	assert.Empty(t, fresh.Turns())
}

func TestGet_DoesNotCreate(t *testing.T) {
	s := NewStore(Config{}, nil)
	_, ok := s.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestAcquire_SerializesSameSession(t *testing.T) {
	s := NewStore(Config{}, nil)

	const workers = 20
	var (
		wg       sync.WaitGroup
		inFlight int
		maxSeen  int
		mu       sync.Mutex
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, release := s.Acquire("shared")
			defer release()

			mu.Lock()
			inFlight++
			if inFlight > maxSeen {
				maxSeen = inFlight
			}
			mu.Unlock()

			// read-modify-write of the history must not interleave
			n := len(sess.Turns())
			time.Sleep(time.Millisecond)
			sess.Append(Turn{Question: fmt.Sprintf("q%d", n)})

			mu.Lock()
			inFlight--
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	sess, ok := s.Get("shared")
	require.True(t, ok)
	turns := sess.Turns()
	require.Len(t, turns, workers)
	for i, turn := range turns {
		assert.Equal(t, fmt.Sprintf("q%d", i), turn.Question)
	}
}

func TestAcquire_DifferentSessionsDoNotBlock(t *testing.T) {
	s := NewStore(Config{}, nil)

	_, releaseA := s.Acquire("a")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		_, releaseB := s.Acquire("b")
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquiring another session blocked")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	s := NewStore(Config{}, nil)
	_, release := s.Acquire("x")
	release()
	release()

	_, release = s.Acquire("x")
	release()
}

func TestAcquire_EvictedMidTurnStaysPinned(t *testing.T) {
	s := NewStore(Config{MaxSessions: 1}, nil)

	first, releaseA := s.Acquire("a")
	_, releaseB := s.Acquire("b")
	releaseB()
	_, ok := s.Get("a")
	require.False(t, ok, "capacity of one should have evicted a")

	acquired := make(chan *Session, 1)
	go func() {
		sess, release := s.Acquire("a")
		defer release()
		acquired <- sess
	}()

	select {
	case <-acquired:
		t.Fatal("second turn on a started before the first released")
	case <-time.After(50 * time.Millisecond):
	}

	first.Append(Turn{Question: "q1", Answer: "a1"})
	releaseA()

	var second *Session
	select {
	case second = <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second turn on a never started")
	}
	assert.Same(t, first, second)
	turns := second.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "q1", turns[0].Question)

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.inflight) == 0
	}, time.Second, 10*time.Millisecond)
}
