package lockfree

import (
	"sync"
	"testing"
)

func TestStackPushPopOrder(t *testing.T) {
	s := NewStack[int]()
	s.Push(1)
	s.Push(2)
	s.Push(3)

	for _, want := range []int{3, 2, 1} {
		got, ok := s.Pop()
		if !ok {
			t.Fatalf("Pop: expected ok=true")
		}
		if got != want {
			t.Errorf("Pop: got %d, want %d", got, want)
		}
	}
	if _, ok := s.Pop(); ok {
		t.Error("Pop on empty stack: expected ok=false")
	}
}

func TestStackEmptyPop(t *testing.T) {
	s := NewStack[string]()
	if _, ok := s.Pop(); ok {
		t.Error("expected empty stack Pop to return ok=false")
	}
}

func TestStackConcurrentPushPopConservesMultiset(t *testing.T) {
	s := NewStack[int]()
	const perWorker = 2000
	const workers = 8

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Push(base*perWorker + i)
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[int]bool, perWorker*workers)
	count := 0
	for {
		v, ok := s.Pop()
		if !ok {
			break
		}
		if seen[v] {
			t.Fatalf("value %d popped more than once", v)
		}
		seen[v] = true
		count++
	}
	if count != perWorker*workers {
		t.Errorf("expected %d elements, popped %d", perWorker*workers, count)
	}
}

func TestStackConcurrentPushPopNoLostOrDuplicated(t *testing.T) {
	s := NewStack[int]()
	const total = 5000

	for i := 0; i < total; i++ {
		s.Push(i)
	}

	results := make(chan int, total)
	var consumers sync.WaitGroup
	consumers.Add(4)
	for c := 0; c < 4; c++ {
		go func() {
			defer consumers.Done()
			for {
				v, ok := s.Pop()
				if !ok {
					return
				}
				results <- v
			}
		}()
	}
	consumers.Wait()
	close(results)

	seen := make(map[int]bool, total)
	for v := range results {
		if seen[v] {
			t.Fatalf("duplicate value %d", v)
		}
		seen[v] = true
	}
	if len(seen) != total {
		t.Errorf("expected %d unique values, got %d", total, len(seen))
	}
}
