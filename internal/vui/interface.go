package vui

import (
	"fmt"
	"sync"
)

// Interface is the voice-UI plugin boundary (spec.md §3 "Voice-UI
// interface", §9 "All model/recognition-config blob interpretation is
// delegated through it"), ported from original_source's VoiceUIInterface
// abstract class.
type Interface interface {
	DetachStream(streamID string)
	SetParameter(id ParamID, p Param) error
	GetParameter(id ParamID, p *Param) error
	Process(id ProcessID, p *Param) error
	RegisterModel(streamID string, modelBytes []byte) (*SoundModel, error)
	DeregisterModel(streamID string)
	ParseRecognitionConfig(streamID string, base RecognitionConfig, opaque []byte) (RecognitionConfig, error)
}

// RecognitionConfig is the normalized shape of the client's opaque
// recognition_config payload once this package has parsed its TLVs
// (spec.md §6).
type RecognitionConfig struct {
	CaptureHandle     uint64
	CaptureDevice     string
	CaptureRequested  bool
	NumPhrases        uint32
	PhraseConfLevels  []ConfLevel
	UserConfLevels    []ConfLevel
	HistoryBuffer     HistoryBufferConfig
	DetectionPerfMode uint32
}

// defaultInterface is the in-process reference implementation used when
// no external vendor plugin is configured; it satisfies the same
// contract the core depends on, per spec.md §9 ("the core should depend
// only on that interface, not on the plugin ABI").
type defaultInterface struct {
	mu      sync.Mutex
	models  map[string]*SoundModel
	configs map[string]RecognitionConfig
}

// NewDefaultInterface builds the reference Interface implementation.
func NewDefaultInterface() Interface {
	return &defaultInterface{
		models:  make(map[string]*SoundModel),
		configs: make(map[string]RecognitionConfig),
	}
}

func (d *defaultInterface) DetachStream(streamID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.models, streamID)
	delete(d.configs, streamID)
}

func (d *defaultInterface) RegisterModel(streamID string, modelBytes []byte) (*SoundModel, error) {
	sm, err := ParseSoundModel(modelBytes)
	if err != nil {
		return nil, fmt.Errorf("register model for stream %s: %w", streamID, err)
	}
	d.mu.Lock()
	d.models[streamID] = sm
	d.mu.Unlock()
	return sm, nil
}

func (d *defaultInterface) DeregisterModel(streamID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.models, streamID)
}

// ParseRecognitionConfig decodes the TLV-encoded opaque payload of a
// recognition_config call into a RecognitionConfig and caches it for the
// stream, so later GetParameter/Process calls can reference it.
func (d *defaultInterface) ParseRecognitionConfig(streamID string, base RecognitionConfig, opaque []byte) (RecognitionConfig, error) {
	tlvs, err := ParseTLVs(opaque)
	if err != nil {
		return RecognitionConfig{}, fmt.Errorf("parse recognition config for stream %s: %w", streamID, err)
	}
	cfg := base
	for _, t := range tlvs {
		switch t.Key {
		case KeyHistoryBufferConfig:
			hb, err := DecodeHistoryBufferConfig(t.Payload)
			if err != nil {
				return RecognitionConfig{}, err
			}
			cfg.HistoryBuffer = hb
		case KeyDetectionPerfMode:
			if len(t.Payload) >= 4 {
				cfg.DetectionPerfMode = uint32(t.Payload[0]) | uint32(t.Payload[1])<<8 |
					uint32(t.Payload[2])<<16 | uint32(t.Payload[3])<<24
			}
		}
	}
	d.mu.Lock()
	d.configs[streamID] = cfg
	d.mu.Unlock()
	return cfg, nil
}

func (d *defaultInterface) SetParameter(id ParamID, p Param) error {
	switch id {
	case ParamRecognitionConfig:
		cfg, ok := p.Value.(RecognitionConfig)
		if !ok {
			return fmt.Errorf("%w: expected RecognitionConfig", errInvalidParam)
		}
		d.mu.Lock()
		d.configs[p.StreamID] = cfg
		d.mu.Unlock()
		return nil
	default:
		return nil
	}
}

func (d *defaultInterface) GetParameter(id ParamID, p *Param) error {
	switch id {
	case ParamRecognitionConfig:
		d.mu.Lock()
		cfg, ok := d.configs[p.StreamID]
		d.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: no recognition config for stream %s", errInvalidParam, p.StreamID)
		}
		p.Value = cfg
		return nil
	case ParamDefaultBufferConfig:
		p.Value = HistoryBufferConfig{HistoryMs: 2000, PrerollMs: 250}
		return nil
	default:
		return nil
	}
}

func (d *defaultInterface) Process(id ProcessID, p *Param) error {
	switch id {
	case ProcessLABData:
		return nil
	default:
		return fmt.Errorf("%w: unknown process id %d", errInvalidParam, id)
	}
}

var errInvalidParam = fmt.Errorf("invalid vui parameter")
