package engine1

import (
	"context"
	"sync"

	"github.com/fankserver/voicetrigger/internal/dsp"
)

// fakeSession is a minimal in-memory dsp.Session double for engine tests.
type fakeSession struct {
	mu       sync.Mutex
	opened   bool
	started  bool
	params   map[dsp.ParamTag][]byte
	events   chan<- dsp.Event
	openErr  error
	startErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{params: make(map[dsp.ParamTag][]byte)}
}

func (s *fakeSession) Open(ctx context.Context, moduleType string, modelBytes []byte) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) SetParam(ctx context.Context, tag dsp.ParamTag, miid uint32, payload []byte) error {
	s.mu.Lock()
	s.params[tag] = payload
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) GetParam(ctx context.Context, tag dsp.ParamTag, miid uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[tag], nil
}

func (s *fakeSession) RegisterCallback(ctx context.Context, events chan<- dsp.Event) error {
	s.events = events
	return nil
}

func (s *fakeSession) Read(ctx context.Context, buf []byte) (int, error) {
	return 0, nil
}

// emit pushes an event through the registered callback channel.
func (s *fakeSession) emit(ev dsp.Event) {
	if s.events != nil {
		s.events <- ev
	}
}
