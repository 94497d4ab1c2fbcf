package stream

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/fankserver/voicetrigger/internal/dsp"
	"github.com/fankserver/voicetrigger/internal/resource"
)

// buildSoundModelBlob assembles a minimal valid Sound-Model-Library v3
// blob for tests, carrying the given stage bytes as one big-model entry
// each.
func buildSoundModelBlob(stages ...byte) []byte {
	const maxStringLen = 200
	body := make([]byte, 0, 256)

	numModels := make([]byte, 4)
	binary.LittleEndian.PutUint32(numModels, uint32(len(stages)))
	body = append(body, numModels...)
	body = append(body, make([]byte, 8)...) // kwLen, userLen, unused by parser logic here
	body = append(body, make([]byte, maxStringLen)...)
	body = append(body, make([]byte, maxStringLen)...)

	modelTable := make([]byte, 0, len(stages)*16)
	modelData := make([]byte, 0)
	dataOffset := uint32(12 + len(body) + len(stages)*16)
	for _, stage := range stages {
		entry := make([]byte, 16)
		binary.LittleEndian.PutUint32(entry[4:8], dataOffset)
		binary.LittleEndian.PutUint32(entry[8:12], 4)
		binary.LittleEndian.PutUint32(entry[12:16], uint32(stage))
		modelTable = append(modelTable, entry...)
		modelData = append(modelData, []byte{0xAA, 0xBB, 0xCC, 0xDD}...)
		dataOffset += 4
	}

	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header[0:4], 0x00180CC8)
	binary.LittleEndian.PutUint32(header[8:12], 0x0300)

	blob := append(header, body...)
	blob = append(blob, modelTable...)
	blob = append(blob, modelData...)
	return blob
}

// fakeDSPSession is a minimal in-memory dsp.Session double for stream
// scenario tests; emitDetection lets a test drive a first-stage trigger.
type fakeDSPSession struct {
	mu     sync.Mutex
	opened bool
	events chan<- dsp.Event
	params map[dsp.ParamTag][]byte
}

func newFakeDSPSession() *fakeDSPSession {
	return &fakeDSPSession{params: make(map[dsp.ParamTag][]byte)}
}

func (s *fakeDSPSession) Open(ctx context.Context, moduleType string, modelBytes []byte) error {
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}
func (s *fakeDSPSession) Close(ctx context.Context) error {
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
	return nil
}
func (s *fakeDSPSession) Start(ctx context.Context) error { return nil }
func (s *fakeDSPSession) Stop(ctx context.Context) error  { return nil }
func (s *fakeDSPSession) SetParam(ctx context.Context, tag dsp.ParamTag, miid uint32, payload []byte) error {
	s.mu.Lock()
	s.params[tag] = payload
	s.mu.Unlock()
	return nil
}
func (s *fakeDSPSession) GetParam(ctx context.Context, tag dsp.ParamTag, miid uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[tag], nil
}
func (s *fakeDSPSession) RegisterCallback(ctx context.Context, events chan<- dsp.Event) error {
	s.events = events
	return nil
}
func (s *fakeDSPSession) Read(ctx context.Context, buf []byte) (int, error) { return 0, nil }

func (s *fakeDSPSession) emit(ev dsp.Event) { s.events <- ev }

// fakeResourceManager is a minimal resource.Manager double.
type fakeResourceManager struct {
	mu          sync.Mutex
	wakeLocks   map[string]bool
	nextToken   int
}

func newFakeResourceManager() *fakeResourceManager {
	return &fakeResourceManager{wakeLocks: make(map[string]bool)}
}

func (m *fakeResourceManager) RegisterStream(ctx context.Context, streamID string) (resource.Token, error) {
	return resource.Token{StreamID: streamID}, nil
}
func (m *fakeResourceManager) DeregisterStream(ctx context.Context, tok resource.Token) error {
	return nil
}
func (m *fakeResourceManager) RegisterDevice(ctx context.Context, tok resource.Token, deviceName string) error {
	return nil
}
func (m *fakeResourceManager) DeregisterDevice(ctx context.Context, tok resource.Token, deviceName string) error {
	return nil
}
func (m *fakeResourceManager) GetCaptureProfile(ctx context.Context, operatingMode, inputMode string) (resource.CaptureProfile, error) {
	return resource.CaptureProfile{}, nil
}
func (m *fakeResourceManager) UpdateCaptureProfile(ctx context.Context, tok resource.Token, active bool) (bool, resource.CaptureProfile, error) {
	return false, resource.CaptureProfile{}, nil
}
func (m *fakeResourceManager) VoteSleepMonitor(ctx context.Context, tok resource.Token, on bool, pinned bool) error {
	return nil
}
func (m *fakeResourceManager) CheckECRef(ctx context.Context, rxDevice, txDevice string) (bool, error) {
	return true, nil
}
func (m *fakeResourceManager) ConcurrentStreamStatus(ctx context.Context, tok resource.Token, started bool) error {
	return nil
}
func (m *fakeResourceManager) HandleDeferredSwitch(ctx context.Context, tok resource.Token) error {
	return nil
}
func (m *fakeResourceManager) AcquireWakeLock(ctx context.Context, tok resource.Token) error {
	m.mu.Lock()
	m.wakeLocks[tok.StreamID] = true
	m.mu.Unlock()
	return nil
}
func (m *fakeResourceManager) ReleaseWakeLock(ctx context.Context, tok resource.Token) error {
	m.mu.Lock()
	delete(m.wakeLocks, tok.StreamID)
	m.mu.Unlock()
	return nil
}
func (m *fakeResourceManager) heldWakeLock(streamID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wakeLocks[streamID]
}
