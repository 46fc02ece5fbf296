package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedFIFO(t *testing.T) {
	q := NewBounded[int](3)
	assert.Equal(t, 3, q.Cap())

	assert.True(t, q.TryEnqueue(1))
	assert.True(t, q.TryEnqueue(2))
	assert.True(t, q.TryEnqueue(3))
	assert.False(t, q.TryEnqueue(4))
	assert.Equal(t, 3, q.Len())

	for want := 1; want <= 3; want++ {
		v, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestBoundedZeroCapacity(t *testing.T) {
	q := NewBounded[int](0)
	assert.False(t, q.TryEnqueue(1))
	assert.Equal(t, 0, q.TryEnqueueBulk([]int{1, 2}))

	neg := NewBounded[int](-5)
	assert.Equal(t, 0, neg.Cap())
	assert.False(t, neg.TryEnqueue(1))
}

func TestBoundedBulk(t *testing.T) {
	q := NewBounded[int](4)
	assert.Equal(t, 4, q.TryEnqueueBulk([]int{1, 2, 3, 4, 5, 6}))

	dst := make([]int, 3)
	n := q.TryDequeueBulk(dst)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{1, 2, 3}, dst)

	n = q.TryDequeueBulk(dst)
	assert.Equal(t, 1, n)
	assert.Equal(t, 4, dst[0])

	assert.Equal(t, 0, q.TryDequeueBulk(dst))
}

func TestBoundedClose(t *testing.T) {
	q := NewBounded[string](2)
	require.True(t, q.TryEnqueue("a"))
	q.Close()
	q.Close()
	assert.True(t, q.Closed())

	assert.False(t, q.TryEnqueue("b"))
	assert.Equal(t, 0, q.TryEnqueueBulk([]string{"c"}))

	v, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestBoundedConcurrent(t *testing.T) {
	const producers, perProducer = 8, 1000
	q := NewBounded[int](producers * perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.TryEnqueue(i) {
				}
			}
		}()
	}
	wg.Wait()

	total := 0
	buf := make([]int, 64)
	for {
		n := q.TryDequeueBulk(buf)
		if n == 0 {
			break
		}
		total += n
	}
	assert.Equal(t, producers*perProducer, total)
}

func TestUnboundedFIFO(t *testing.T) {
	q := NewUnbounded[int]()
	_, ok := q.TryDequeue()
	assert.False(t, ok)

	for i := 0; i < 10; i++ {
		q.Enqueue(i)
	}
	assert.Equal(t, 10, q.Len())

	for i := 0; i < 10; i++ {
		v, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestUnboundedConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 2000
	q := NewUnbounded[[2]int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue([2]int{p, i})
			}
		}(p)
	}
	wg.Wait()

	// Per-producer order is preserved.
	next := make([]int, producers)
	buf := make([][2]int, 128)
	for {
		n := q.TryDequeueBulk(buf)
		if n == 0 {
			break
		}
		for _, v := range buf[:n] {
			assert.Equal(t, next[v[0]], v[1])
			next[v[0]]++
		}
	}
	for p := 0; p < producers; p++ {
		assert.Equal(t, perProducer, next[p])
	}
}
