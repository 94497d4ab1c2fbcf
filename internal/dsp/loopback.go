package dsp

import (
	"context"
	"sync"
)

// LoopbackSession is an in-process reference Session, analogous to
// vui.defaultInterface and stplugin.Reference: it satisfies the Session
// contract without a real DSP graph driver behind it, so triggerd can
// run standalone. Tests and operators drive detections through Emit
// instead of a real low-power DSP callback.
type LoopbackSession struct {
	mu         sync.Mutex
	opened     bool
	started    bool
	moduleType string
	params     map[ParamTag][]byte
	events     chan<- Event
}

// NewLoopbackSession builds an idle LoopbackSession.
func NewLoopbackSession() *LoopbackSession {
	return &LoopbackSession{params: make(map[ParamTag][]byte)}
}

func (s *LoopbackSession) Open(ctx context.Context, moduleType string, modelBytes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	s.moduleType = moduleType
	return nil
}

func (s *LoopbackSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

func (s *LoopbackSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *LoopbackSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *LoopbackSession) SetParam(ctx context.Context, tag ParamTag, miid uint32, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params[tag] = payload
	return nil
}

func (s *LoopbackSession) GetParam(ctx context.Context, tag ParamTag, miid uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[tag], nil
}

func (s *LoopbackSession) RegisterCallback(ctx context.Context, events chan<- Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
	return nil
}

// Read always reports no data: LoopbackSession has no real PCM source.
// A platform build replaces this Session with one backed by a real DSP
// graph driver or mmap buffer.
func (s *LoopbackSession) Read(ctx context.Context, buf []byte) (int, error) {
	return 0, nil
}

// Emit synthesizes a detection event on the registered callback channel,
// standing in for the DSP graph's asynchronous callback.
func (s *LoopbackSession) Emit(ev Event) {
	s.mu.Lock()
	ch := s.events
	s.mu.Unlock()
	if ch != nil {
		ch <- ev
	}
}
