package resource

import (
	"context"
	"sync"
)

// defaultManager is an in-process reference Manager, analogous to
// vui.defaultInterface: it satisfies the same contract the core depends
// on without a real device/route manager wired in, so triggerd can run
// standalone (spec.md §9 "the core should depend only on that
// interface").
type defaultManager struct {
	mu       sync.Mutex
	profiles map[string]CaptureProfile
	active   map[string]bool
	wakeLock map[string]bool
}

// NewDefaultManager builds the reference Manager implementation.
func NewDefaultManager() Manager {
	return &defaultManager{
		profiles: make(map[string]CaptureProfile),
		active:   make(map[string]bool),
		wakeLock: make(map[string]bool),
	}
}

func (m *defaultManager) RegisterStream(ctx context.Context, streamID string) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[streamID] = CaptureProfile{}
	return Token{StreamID: streamID}, nil
}

func (m *defaultManager) DeregisterStream(ctx context.Context, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, tok.StreamID)
	delete(m.active, tok.StreamID)
	delete(m.wakeLock, tok.StreamID)
	return nil
}

func (m *defaultManager) RegisterDevice(ctx context.Context, tok Token, deviceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[tok.StreamID]
	p.DeviceName = deviceName
	m.profiles[tok.StreamID] = p
	return nil
}

func (m *defaultManager) DeregisterDevice(ctx context.Context, tok Token, deviceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[tok.StreamID]
	if p.DeviceName == deviceName {
		p.DeviceName = ""
		m.profiles[tok.StreamID] = p
	}
	return nil
}

func (m *defaultManager) GetCaptureProfile(ctx context.Context, operatingMode, inputMode string) (CaptureProfile, error) {
	return CaptureProfile{SampleRate: 16000, BitWidth: 16, Channels: 1}, nil
}

// UpdateCaptureProfile recomputes the merge-max profile across every
// stream this manager has seen marked active, reporting whether the
// shared profile changed (spec.md §3 invariant: "the shared capture
// profile... is the maximum across all active streams").
func (m *defaultManager) UpdateCaptureProfile(ctx context.Context, tok Token, active bool) (bool, CaptureProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.mergedProfileLocked()
	m.active[tok.StreamID] = active
	after := m.mergedProfileLocked()
	return !before.Equal(after), after, nil
}

func (m *defaultManager) mergedProfileLocked() CaptureProfile {
	var merged CaptureProfile
	for id, on := range m.active {
		if !on {
			continue
		}
		p := m.profiles[id]
		if p.SampleRate > merged.SampleRate {
			merged.SampleRate = p.SampleRate
		}
		if p.Channels > merged.Channels {
			merged.Channels = p.Channels
		}
		if p.ECRequired {
			merged.ECRequired = true
		}
	}
	return merged
}

func (m *defaultManager) VoteSleepMonitor(ctx context.Context, tok Token, on bool, pinned bool) error {
	return nil
}

func (m *defaultManager) CheckECRef(ctx context.Context, rxDevice, txDevice string) (bool, error) {
	return rxDevice != "", nil
}

func (m *defaultManager) ConcurrentStreamStatus(ctx context.Context, tok Token, started bool) error {
	return nil
}

func (m *defaultManager) HandleDeferredSwitch(ctx context.Context, tok Token) error {
	return nil
}

func (m *defaultManager) AcquireWakeLock(ctx context.Context, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wakeLock[tok.StreamID] = true
	return nil
}

func (m *defaultManager) ReleaseWakeLock(ctx context.Context, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.wakeLock, tok.StreamID)
	return nil
}
