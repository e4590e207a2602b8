package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAt(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	done := make(chan struct{})
	if _, err := s.At(time.Now().Add(20*time.Millisecond), func() { close(done) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	time.Sleep(10 * time.Millisecond)
	if s.Len() != 0 {
		t.Errorf("Len() = %d after run", s.Len())
	}
}

func TestAtPast(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	done := make(chan struct{})
	if _, err := s.At(time.Now().Add(-time.Minute), func() { close(done) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("late task within grace did not run")
	}

	if _, err := s.At(time.Now().Add(-time.Hour), func() {}); !errors.Is(err, ErrMisfire) {
		t.Errorf("err = %v, want ErrMisfire", err)
	}
}

func TestCancel(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var ran atomic.Bool
	id, _ := s.At(time.Now().Add(50*time.Millisecond), func() { ran.Store(true) })
	if !s.Cancel(id) {
		t.Fatal("Cancel() = false")
	}
	if s.Cancel(id) {
		t.Error("second Cancel() = true")
	}
	time.Sleep(100 * time.Millisecond)
	if ran.Load() {
		t.Error("cancelled task ran")
	}
}

func TestEvery(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"every minute", "* * * * *", false},
		{"weekday mornings", "0 9 * * 1-5", false},
		{"garbage", "not a cron", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(nil)
			defer s.Stop()
			_, err := s.Every(tt.expr, func() {})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidCron) {
				t.Errorf("err = %v, want ErrInvalidCron", err)
			}
			if !tt.wantErr && s.Len() != 1 {
				t.Errorf("Len() = %d", s.Len())
			}
		})
	}
}

func TestStop(t *testing.T) {
	s := New(nil)
	s.At(time.Now().Add(time.Hour), func() {})
	s.Every("* * * * *", func() {})
	s.Stop()

	if s.Len() != 0 {
		t.Errorf("Len() = %d after Stop", s.Len())
	}
	if _, err := s.At(time.Now(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

func TestCancelDuringRun(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var runs atomic.Int32
	id, err := s.Every("* * * * * *", func() {
		runs.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task did not start")
	}
	if !s.Cancel(id) {
		t.Fatal("Cancel() = false while running")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after Cancel", s.Len())
	}
	close(release)

	time.Sleep(2500 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, cancelled task was rescheduled", s.Len())
	}
}

func TestStopWaitsForRunningTask(t *testing.T) {
	s := New(nil)

	started := make(chan struct{})
	var finished atomic.Bool
	s.At(time.Now(), func() {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	})
	<-started
	s.Stop()
	if !finished.Load() {
		t.Error("Stop returned before the running task finished")
	}
	if _, err := s.Every("* * * * *", func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}
