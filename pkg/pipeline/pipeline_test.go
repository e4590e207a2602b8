package pipeline_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-hyperion/internal/log"
	"github.com/teslashibe/go-hyperion/pkg/envelope"
	"github.com/teslashibe/go-hyperion/pkg/pipeline"
)

func TestPriorityQueueOrdersByPriority(t *testing.T) {
	q := pipeline.NewPriorityQueue(envelope.Less)

	term := envelope.NewTermination("42", "ada", 0)
	q.Put(term)
	for _, p := range []int{3, 1, 2, 1, 0} {
		e := envelope.New("42", "ada", 0)
		e.Priority = p
		e.TextAnswer = string(rune('a' + p))
		q.Put(e)
	}

	var got []int
	for {
		e, ok := q.Get(10 * time.Millisecond)
		if !ok {
			break
		}
		got = append(got, e.Priority)
	}

	want := []int{0, 1, 1, 2, 3, envelope.TerminationPriority}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPriorityQueueKeepsArrivalOrderOnTies(t *testing.T) {
	q := pipeline.NewPriorityQueue(func(a, b [2]int) bool { return a[0] < b[0] })
	for i := 0; i < 5; i++ {
		q.Put([2]int{1, i})
	}
	for i := 0; i < 5; i++ {
		v, ok := q.Get(time.Millisecond)
		if !ok || v[1] != i {
			t.Fatalf("item %d = %v, want seq %d", i, v, i)
		}
	}
}

func TestQueueGetTimesOut(t *testing.T) {
	q := pipeline.NewQueue[int](0)
	start := time.Now()
	if _, ok := q.Get(20 * time.Millisecond); ok {
		t.Fatal("expected empty result")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Get returned before the timeout")
	}
}

func TestBoundedQueueBackpressure(t *testing.T) {
	q := pipeline.NewQueue[int](1)
	if !q.Offer(1, time.Millisecond) {
		t.Fatal("first offer should fit")
	}
	if q.Offer(2, 10*time.Millisecond) {
		t.Fatal("second offer should time out on a full queue")
	}

	done := make(chan struct{})
	go func() {
		q.Put(3)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Put should block while full")
	case <-time.After(20 * time.Millisecond):
	}

	if v, _ := q.Get(time.Millisecond); v != 1 {
		t.Fatalf("got %d, want 1", v)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Put did not resume after Get")
	}
}

func TestRegistry(t *testing.T) {
	r := pipeline.NewRegistry(envelope.Less)

	t.Run("create is idempotent", func(t *testing.T) {
		a := r.Create("1")
		b := r.Create("1")
		r.Put("1", envelope.New("1", "u", 0))
		if a.Len() != 1 || b.Len() != 1 {
			t.Error("both handles must share one queue")
		}
		a.Drain()
	})

	t.Run("put to unknown id fails", func(t *testing.T) {
		if r.Put("missing", envelope.New("missing", "u", 0)) {
			t.Error("expected false for unknown id")
		}
	})

	t.Run("set refuses taken ids", func(t *testing.T) {
		other := pipeline.NewRegistry(envelope.Less)
		s := other.Create("2")
		if !r.Set("2", s) {
			t.Fatal("set should bind a free id")
		}
		if r.Set("2", s) {
			t.Error("set should refuse a taken id")
		}
		r.Put("2", envelope.New("2", "u", 0))
		if s.Len() != 1 {
			t.Error("set sink must receive puts")
		}
	})

	t.Run("delete", func(t *testing.T) {
		r.Delete("1")
		if r.Has("1") {
			t.Error("id still registered")
		}
	})
}

func TestKeepAlive(t *testing.T) {
	t.Run("termination released on last remove", func(t *testing.T) {
		k := pipeline.NewKeepAlive[envelope.Envelope]()
		const n = 3
		for i := 0; i < n; i++ {
			k.Add("42")
		}
		if !k.AddTermination("42", envelope.NewTermination("42", "u", 0)) {
			t.Fatal("termination should be stashed while work is pending")
		}
		for i := 1; i <= n; i++ {
			term, ok := k.Remove("42")
			if i < n && ok {
				t.Fatalf("termination released early on call %d", i)
			}
			if i == n {
				if !ok || !term.Termination {
					t.Fatalf("termination not released on call %d", i)
				}
			}
		}
		if k.Pending("42") != 0 {
			t.Error("entry should be gone")
		}
	})

	t.Run("no stash returns nothing", func(t *testing.T) {
		k := pipeline.NewKeepAlive[envelope.Envelope]()
		k.Add("1")
		if _, ok := k.Remove("1"); ok {
			t.Error("nothing was stashed")
		}
	})

	t.Run("remove without pending is a no-op", func(t *testing.T) {
		k := pipeline.NewKeepAlive[envelope.Envelope]()
		if _, ok := k.Remove("1"); ok {
			t.Error("expected no-op")
		}
		if k.AddTermination("1", envelope.NewTermination("1", "u", 0)) {
			t.Error("nothing pending, caller must forward the termination")
		}
	})

	t.Run("concurrent side tasks", func(t *testing.T) {
		k := pipeline.NewKeepAlive[envelope.Envelope]()
		const n = 50
		for i := 0; i < n; i++ {
			k.Add("c")
		}
		k.AddTermination("c", envelope.NewTermination("c", "u", 0))

		var released atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := k.Remove("c"); ok {
					released.Add(1)
				}
			}()
		}
		wg.Wait()
		if released.Load() != 1 {
			t.Errorf("termination released %d times, want 1", released.Load())
		}
	})
}

type passStage struct {
	*pipeline.Stage[int]
	add int
}

func newPassStage(name string, add int) *passStage {
	less := func(a, b int) bool { return a < b }
	return &passStage{Stage: pipeline.NewStage(name, less, log.Discard()), add: add}
}

func (p *passStage) Start() error {
	return p.Loop(func(v int) { p.Dispatch(v + p.add) })
}

func TestStagePipeChain(t *testing.T) {
	a := newPassStage("a", 1)
	b := newPassStage("b", 10)
	c := newPassStage("c", 100)

	intake := a.CreateIntake(0)
	a.Pipe(b).Pipe(c)
	sink := c.CreateSink(0)

	stages := []pipeline.Runner{a, b, c}
	for _, s := range stages {
		if err := s.Start(); err != nil {
			t.Fatal(err)
		}
	}
	defer func() {
		for _, s := range stages {
			s.Stop()
		}
		for _, s := range stages {
			s.Join()
		}
	}()

	intake.Put(0)
	v, ok := sink.DrainTimeout(time.Second)
	if !ok || v != 111 {
		t.Fatalf("got %d (ok=%v), want 111", v, ok)
	}
}

func TestStageDispatchFansOut(t *testing.T) {
	s := newPassStage("fan", 0)
	s1 := s.CreateSink(0)
	s2 := s.CreateSink(0)

	s.Dispatch(7)

	for i, sink := range []*pipeline.Sink[int]{s1, s2} {
		if v, ok := sink.Drain(); !ok || v != 7 {
			t.Errorf("sink %d got %d (ok=%v)", i, v, ok)
		}
	}
}

func TestStagePutUnknownID(t *testing.T) {
	s := newPassStage("put", 0)
	if s.Put(1, "nobody") {
		t.Error("expected false for unknown id")
	}
	sink := s.CreateIdentifiedSink("me")
	if !s.Put(1, "me") {
		t.Fatal("expected delivery")
	}
	if v, ok := sink.Drain(); !ok || v != 1 {
		t.Errorf("got %d", v)
	}
	s.DeleteIdentifiedSink("me")
	if s.Put(1, "me") {
		t.Error("deleted sink must not accept items")
	}
}

func TestStageSurvivesPanics(t *testing.T) {
	s := newPassStage("panicky", 0)
	intake := s.CreateIntake(0)
	out := s.CreateSink(0)
	err := s.Loop(func(v int) {
		if v == 0 {
			panic("boom")
		}
		s.Dispatch(v)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { s.Stop(); s.Join() }()

	intake.Put(0)
	intake.Put(5)
	if v, ok := out.DrainTimeout(time.Second); !ok || v != 5 {
		t.Fatalf("stage did not survive panic: %d %v", v, ok)
	}
}

func TestTaskStopIsPrompt(t *testing.T) {
	s := newPassStage("idle", 0)
	s.CreateIntake(0)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != pipeline.ErrAlreadyRunning {
		t.Errorf("second start err = %v", err)
	}

	start := time.Now()
	s.Stop()
	s.Join()
	if time.Since(start) > time.Second {
		t.Error("stop took too long")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := pipeline.NewPool(2, log.Discard())

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	p.Close()

	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d, want <= 2", peak.Load())
	}
	if err := p.Submit(context.Background(), func() {}); err != pipeline.ErrPoolClosed {
		t.Errorf("submit after close err = %v", err)
	}
}

func TestPoolCloseReleasesBlockedSubmit(t *testing.T) {
	p := pipeline.NewPool(1, log.Discard())

	started := make(chan struct{})
	release := make(chan struct{})
	if err := p.Submit(context.Background(), func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	submitted := make(chan error, 1)
	go func() {
		submitted <- p.Submit(context.Background(), func() {})
	}()

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	select {
	case err := <-submitted:
		if err != pipeline.ErrPoolClosed {
			t.Errorf("blocked submit err = %v, want ErrPoolClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked submit not released by Close")
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the running job finished")
	}
}
