package mwcas

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startGC(tb testing.TB) {
	tb.Helper()
	StartGC(Config{GCInterval: time.Millisecond})
	tb.Cleanup(StopGC)
}

func TestExecuteSingleThreadSuccess(t *testing.T) {
	assert := assert.New(t)
	startGC(t)

	var w1, w2 Word
	w1.Init(10)
	w2.Init(20)

	h := NewHandle()
	defer h.Close()

	d := h.New()
	require.True(t, AddTarget(d, &w1, uint64(10), uint64(11)))
	require.True(t, AddTarget(d, &w2, uint64(20), uint64(21)))

	assert.True(h.Execute(d))
	assert.Equal(StatusSuccessful, d.Status())
	assert.Equal(uint64(11), Read[uint64](h, &w1))
	assert.Equal(uint64(21), Read[uint64](h, &w2))
}

func TestExecuteValueMismatchFails(t *testing.T) {
	assert := assert.New(t)
	startGC(t)

	var w1, w2 Word
	w1.Init(10)
	w2.Init(20)

	h := NewHandle()
	defer h.Close()

	d := h.New()
	require.True(t, AddTarget(d, &w1, uint64(10), uint64(11)))
	require.True(t, AddTarget(d, &w2, uint64(99), uint64(21)))

	assert.False(h.Execute(d))
	assert.Equal(StatusFailed, d.Status())
	assert.Equal(uint64(10), Read[uint64](h, &w1))
	assert.Equal(uint64(20), Read[uint64](h, &w2))
}

func TestExecuteEmptyDescriptorSucceeds(t *testing.T) {
	startGC(t)

	h := NewHandle()
	defer h.Close()

	d := h.New()
	assert.Equal(t, 0, d.Size())
	assert.True(t, h.Execute(d))
}

func TestExecuteIsIdempotentAtStatusLevel(t *testing.T) {
	assert := assert.New(t)
	startGC(t)

	var w Word
	w.Init(5)

	h := NewHandle()
	defer h.Close()

	d := h.New()
	require.True(t, AddTarget(d, &w, uint64(5), uint64(6)))

	first := h.Execute(d)
	second := h.Execute(d)
	assert.True(first)
	assert.Equal(first, second)
	assert.Equal(StatusSuccessful, d.Status())
	assert.Equal(uint64(6), Read[uint64](h, &w))
}

func TestAddTargetCapacityOverflow(t *testing.T) {
	assert := assert.New(t)
	startGC(t)

	var words [Capacity + 1]Word
	for i := range words {
		words[i].Init(uint64(i))
	}

	h := NewHandle()
	defer h.Close()

	d := h.New()
	for i := 0; i < Capacity; i++ {
		assert.True(AddTarget(d, &words[i], uint64(i), uint64(i+100)))
	}
	assert.False(AddTarget(d, &words[Capacity], uint64(Capacity), uint64(Capacity+100)))
	assert.Equal(Capacity, d.Size())

	assert.True(h.Execute(d))
	for i := 0; i < Capacity; i++ {
		assert.Equal(uint64(i+100), Read[uint64](h, &words[i]))
	}
	assert.Equal(uint64(Capacity), Read[uint64](h, &words[Capacity]))
}

func TestPointerTargets(t *testing.T) {
	assert := assert.New(t)
	startGC(t)

	oldA, newA := new(uint64), new(uint64)
	oldB, newB := new(uint64), new(uint64)
	*oldA, *newA = 1, 2
	*oldB, *newB = 3, 4

	var w1, w2 Word
	InitPointer(&w1, oldA)
	InitPointer(&w2, oldB)

	h := NewHandle()
	defer h.Close()

	d := h.New()
	require.True(t, AddPointerTarget(d, &w1, oldA, newA))
	require.True(t, AddPointerTarget(d, &w2, oldB, newB))
	require.True(t, h.Execute(d))

	got1 := ReadPointer[uint64](h, &w1)
	got2 := ReadPointer[uint64](h, &w2)
	assert.Same(newA, got1)
	assert.Same(newB, got2)
	assert.Equal(uint64(2), *got1)
	assert.Equal(uint64(4), *got2)
}

func TestReadHelpsEmbeddedDescriptor(t *testing.T) {
	assert := assert.New(t)
	startGC(t)

	var w1, w2 Word
	w1.Init(10)
	w2.Init(20)

	h := NewHandle()
	defer h.Close()

	d := h.New()
	require.True(t, AddTarget(d, &w1, uint64(10), uint64(11)))
	require.True(t, AddTarget(d, &w2, uint64(20), uint64(21)))

	// install the first operand by hand, leaving d active and half-embedded
	require.True(t, d.words[0].embed(valueField(10)))

	// a reader arriving now must drive d to a decision and surface only the
	// resolved value, never the embedded reference
	got := Read[uint64](h, &w1)
	assert.NotEqual(StatusActive, d.Status())
	assert.Equal(StatusSuccessful, d.Status())
	assert.Equal(uint64(11), got)
	assert.Equal(uint64(21), Read[uint64](h, &w2))
}

func TestTwoThreadContentionOnOneWord(t *testing.T) {
	startGC(t)

	var w Word
	w.Init(0)

	var successes atomic.Int32
	var ready, done sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 2; i++ {
		ready.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			h := NewHandle()
			defer h.Close()

			ready.Done()
			<-start

			d := h.New()
			AddTarget(d, &w, uint64(0), uint64(1))
			if h.Execute(d) {
				successes.Add(1)
			}
		}()
	}

	ready.Wait()
	close(start)
	done.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("unexpected success count: got=%d want=1", got)
	}

	h := NewHandle()
	defer h.Close()
	if got := Read[uint64](h, &w); got != 1 {
		t.Fatalf("unexpected final value: got=%d want=1", got)
	}
}

func TestConcurrentReadersObserveResolvedValues(t *testing.T) {
	startGC(t)

	var w1, w2 Word
	w1.Init(0)
	w2.Init(0)

	const ops = 2000
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := NewHandle()
			defer h.Close()

			var last1, last2 uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				v1 := Read[uint64](h, &w1)
				v2 := Read[uint64](h, &w2)
				if v1 < last1 || v2 < last2 {
					t.Errorf("non-monotonic read: (%d,%d) after (%d,%d)", v1, v2, last1, last2)
					return
				}
				if v1 > ops || v2 > ops {
					t.Errorf("read beyond final value: (%d,%d)", v1, v2)
					return
				}
				last1, last2 = v1, v2
			}
		}()
	}

	h := NewHandle()
	defer h.Close()
	for i := 0; i < ops; i++ {
		for {
			d := h.New()
			cur1 := Read[uint64](h, &w1)
			cur2 := Read[uint64](h, &w2)
			AddTarget(d, &w1, cur1, cur1+1)
			AddTarget(d, &w2, cur2, cur2+1)
			if h.Execute(d) {
				break
			}
		}
	}

	close(stop)
	wg.Wait()

	if got := Read[uint64](h, &w1); got != ops {
		t.Fatalf("unexpected final value: got=%d want=%d", got, ops)
	}
	if got := Read[uint64](h, &w2); got != ops {
		t.Fatalf("unexpected final value: got=%d want=%d", got, ops)
	}
}

func TestRandomMultiWordIncrementsConserveSum(t *testing.T) {
	startGC(t)

	const (
		threads = 4
		execNum = 2000
		fields  = Capacity * threads
	)

	var words [fields]Word
	var wg sync.WaitGroup

	for th := 0; th < threads; th++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			h := NewHandle()
			defer h.Close()

			for i := 0; i < execNum; i++ {
				targets := pickDistinct(rng, fields, Capacity)
				for {
					d := h.New()
					for _, idx := range targets {
						cur := Read[uint64](h, &words[idx])
						AddTarget(d, &words[idx], cur, cur+1)
					}
					if h.Execute(d) {
						break
					}
				}
			}
		}(int64(th) + 20)
	}
	wg.Wait()

	h := NewHandle()
	defer h.Close()
	var sum uint64
	for i := range words {
		sum += Read[uint64](h, &words[i])
	}
	if want := uint64(threads * execNum * Capacity); sum != want {
		t.Fatalf("unexpected sum of targets: got=%d want=%d", sum, want)
	}
}

// pickDistinct returns n distinct indices in [0, limit), sorted so
// contending operations approach shared words in a consistent order.
func pickDistinct(rng *rand.Rand, limit, n int) []int {
	picked := make([]int, 0, n)
	for len(picked) < n {
		idx := rng.Intn(limit)
		seen := false
		for _, p := range picked {
			if p == idx {
				seen = true
				break
			}
		}
		if !seen {
			picked = append(picked, idx)
		}
	}
	sort.Ints(picked)
	return picked
}
