package shardring

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadCapacity(t *testing.T) {
	for _, c := range []int{0, 1, 3, 6, 1000} {
		_, err := New[int](c)
		require.Error(t, err, "capacity %d", c)
	}
	for _, c := range []int{2, 4, 16, 1 << 14} {
		r, err := New[int](c)
		require.NoError(t, err)
		require.Equal(t, c, r.Cap())
	}
}

func TestPushPopFIFO(t *testing.T) {
	r, err := New[int](8)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		require.True(t, r.Push(i))
	}
	require.False(t, r.Push(99), "push into a full ring must fail")
	require.Equal(t, 8, r.Len())

	for i := 0; i < 8; i++ {
		v, ok := r.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := r.Pop()
	require.False(t, ok, "pop from an empty ring must fail")
	require.Equal(t, 0, r.Len())
}

func TestWrapAround(t *testing.T) {
	r, err := New[int](4)
	require.NoError(t, err)

	next := 0
	for round := 0; round < 100; round++ {
		require.True(t, r.Push(round*2))
		require.True(t, r.Push(round*2+1))
		v, ok := r.Pop()
		require.True(t, ok)
		require.Equal(t, next, v)
		next++
		v, ok = r.Pop()
		require.True(t, ok)
		require.Equal(t, next, v)
		next++
	}
}

func TestPopBatch(t *testing.T) {
	r, err := New[int](16)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.True(t, r.Push(i))
	}

	dst := make([]int, 4)
	require.Equal(t, 4, r.PopBatch(dst))
	require.Equal(t, []int{0, 1, 2, 3}, dst)

	dst = make([]int, 16)
	require.Equal(t, 6, r.PopBatch(dst))
	require.Equal(t, []int{4, 5, 6, 7, 8, 9}, dst[:6])

	require.Equal(t, 0, r.PopBatch(dst))
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	const (
		producers   = 8
		perProducer = 10000
	)

	r, err := New[int](1 << 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !r.Push(p*perProducer + i) {
				}
			}
		}(p)
	}

	seen := make(map[int]bool, producers*perProducer)
	lastPerProducer := make([]int, producers)
	for i := range lastPerProducer {
		lastPerProducer[i] = -1
	}

	for len(seen) < producers*perProducer {
		require.LessOrEqual(t, r.Len(), r.Cap())
		v, ok := r.Pop()
		if !ok {
			runtime.Gosched()
			continue
		}
		require.False(t, seen[v], "duplicate element %d", v)
		seen[v] = true

		// per-producer order is preserved
		p := v / perProducer
		i := v % perProducer
		require.Greater(t, i, lastPerProducer[p])
		lastPerProducer[p] = i
	}
	wg.Wait()
}

func BenchmarkPushPop(b *testing.B) {
	r, _ := New[int](1 << 14)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if !r.Push(1) {
				r.Pop()
			}
		}
	})
}
