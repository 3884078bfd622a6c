package ahm

import (
	"sync"
	"sync/atomic"
	"testing"
)

func testSentinelTransitions[K Key](t *testing.T, s sentinels[K], key K) {
	t.Helper()
	k := s.empty
	if s.classify(k) != stateEmpty {
		t.Fatalf("expected empty, got %v", s.classify(k))
	}
	if !s.tryLock(&k) {
		t.Fatal("tryLock on an empty cell failed")
	}
	if s.classify(k) != stateLocked {
		t.Fatalf("expected locked, got %v", s.classify(k))
	}
	if s.tryLock(&k) {
		t.Fatal("tryLock on a locked cell succeeded")
	}
	s.rollback(&k)
	if s.classify(k) != stateEmpty {
		t.Fatalf("expected empty after rollback, got %v", s.classify(k))
	}
	if !s.tryLock(&k) {
		t.Fatal("tryLock after rollback failed")
	}
	s.commit(&k, key)
	if s.classify(k) != stateOccupied || loadKey(&k) != key {
		t.Fatalf("expected occupied by %v, got %v (%v)", key, k, s.classify(k))
	}
	if s.tryErase(&k, key+1) {
		t.Fatal("tryErase with a stale key succeeded")
	}
	if !s.tryErase(&k, key) {
		t.Fatal("tryErase failed")
	}
	if s.classify(k) != stateErased {
		t.Fatalf("expected erased, got %v", s.classify(k))
	}
	if s.tryErase(&k, key) {
		t.Fatal("second tryErase succeeded")
	}
	if s.tryLock(&k) {
		t.Fatal("erased cell must not be reclaimed")
	}
}

func TestSentinels_Transitions(t *testing.T) {
	t.Run("int64", func(t *testing.T) {
		testSentinelTransitions(t, sentinels[int64]{empty: -1, locked: -2, erased: -3}, 7)
	})
	t.Run("uint32", func(t *testing.T) {
		testSentinelTransitions(t, sentinels[uint32]{
			empty: ^uint32(0), locked: ^uint32(0) - 1, erased: ^uint32(0) - 2,
		}, 7)
	})
	t.Run("zero empty", func(t *testing.T) {
		testSentinelTransitions(t, sentinels[uint64]{empty: 0, locked: 1, erased: 2}, 100)
	})
}

func TestSentinels_ConcurrentLock(t *testing.T) {
	s := sentinels[int64]{empty: -1, locked: -2, erased: -3}
	k := s.empty
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.tryLock(&k) {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", winners.Load())
	}
}

func TestKeyState_String(t *testing.T) {
	for st, want := range map[keyState]string{
		stateEmpty:    "empty",
		stateLocked:   "locked",
		stateErased:   "erased",
		stateOccupied: "occupied",
	} {
		if st.String() != want {
			t.Errorf("expected %s, got %s", want, st.String())
		}
	}
}
