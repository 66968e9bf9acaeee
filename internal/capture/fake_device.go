package capture

import (
	"context"
	"sync"
	"sync/atomic"
)

// FakeDevice replays scripted chunks. Every chunk is delivered before the
// stream channel closes, regardless of when Close is called.
type FakeDevice struct {
	Chunks  [][]byte
	OpenErr error
	// Gate, when set, holds Open until it is closed, like a pending
	// permission prompt.
	Gate chan struct{}

	waiting  atomic.Int32
	opened   atomic.Int32
	released atomic.Int32
}

func (f *FakeDevice) Open(ctx context.Context) (Stream, error) {
	if f.Gate != nil {
		f.waiting.Add(1)
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	f.opened.Add(1)
	s := &fakeStream{
		device: f,
		chunks: make(chan []byte),
		stop:   make(chan struct{}),
	}
	go s.run(f.Chunks)
	return s, nil
}

// Waiting returns how many Open calls reached the gate.
func (f *FakeDevice) Waiting() int { return int(f.waiting.Load()) }

// Opened returns how many streams were opened.
func (f *FakeDevice) Opened() int { return int(f.opened.Load()) }

// Released returns how many streams were closed.
func (f *FakeDevice) Released() int { return int(f.released.Load()) }

type fakeStream struct {
	device *FakeDevice
	chunks chan []byte
	stop   chan struct{}
	once   sync.Once
}

func (s *fakeStream) Chunks() <-chan []byte { return s.chunks }

func (s *fakeStream) run(chunks [][]byte) {
	defer close(s.chunks)
	for _, c := range chunks {
		s.chunks <- append([]byte(nil), c...)
	}
	<-s.stop
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		close(s.stop)
		s.device.released.Add(1)
	})
	return nil
}
