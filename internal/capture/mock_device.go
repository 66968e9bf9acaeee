package capture

import (
	"context"
	"sync"
	"time"
)

// MockDevice emits zero-filled frames at a fixed interval. It stands in for a
// microphone on hosts without one.
type MockDevice struct {
	frameBytes int
	interval   time.Duration
}

func NewMockDevice(frameBytes int, interval time.Duration) *MockDevice {
	if frameBytes <= 0 {
		frameBytes = 4096
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &MockDevice{frameBytes: frameBytes, interval: interval}
}

func (m *MockDevice) Open(_ context.Context) (Stream, error) {
	s := &mockStream{
		chunks: make(chan []byte, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(m.frameBytes, m.interval)
	return s, nil
}

type mockStream struct {
	chunks chan []byte
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *mockStream) Chunks() <-chan []byte { return s.chunks }

func (s *mockStream) run(frameBytes int, interval time.Duration) {
	defer close(s.done)
	defer close(s.chunks)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			select {
			case s.chunks <- make([]byte, frameBytes):
			case <-s.stop:
				return
			}
		}
	}
}

func (s *mockStream) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}
