package vui

import (
	"encoding/binary"
	"fmt"
)

// Sound-Model-Library v3 layout constants (spec.md §6, grounded on
// original_source's SML_GlobalHeaderType / SML_BigSoundModelTypeV3).
const (
	GlobalHeaderMagic uint32 = 0x00180CC8
	ModelVersionV3    uint32 = 0x0300
	MaxModelsV3              = 3
)

// Stage identifies which recognition stage a big-model's low byte selects
// (spec.md §6).
type Stage uint8

const (
	StageFirstGMM   Stage = 0x01
	StageSecondPDK  Stage = 0x02
	StageSecondUser Stage = 0x04
	StageSecondRNN  Stage = 0x08
	StageSecondUDK  Stage = 0x40
)

// BigModel is one entry of the sound-model blob's model table.
type BigModel struct {
	VersionMajor uint16
	VersionMinor uint16
	Offset       uint32
	Size         uint32
	Type         uint32 // low byte: Stage; high byte: 3rd-party variant marker
	Data         []byte
}

// StageOf returns the recognition stage this model targets.
func (m BigModel) StageOf() Stage { return Stage(m.Type & 0xFF) }

// ThirdParty reports whether the model's upper type byte marks a 3rd
// party variant.
func (m BigModel) ThirdParty() bool { return m.Type&0xFF00 != 0 }

// GlobalHeader is the 12-byte header every blob starts with.
type GlobalHeader struct {
	MagicNumber  uint32
	PayloadBytes uint32
	ModelVersion uint32
}

// SoundModel is the parsed result of ParseSoundModel.
type SoundModel struct {
	Header       GlobalHeader
	KeywordSpell string
	UserName     string
	Models       []BigModel
}

// ParseSoundModel decodes a vendor Sound-Model-Library v3 blob
// (spec.md §6: magic 0x00180CC8, header v3, up to 3 big-models, model
// version 0x0300). All multi-byte fields are little-endian, matching the
// packed C structs of original_source/utils/inc/SoundTriggerUtils.h.
func ParseSoundModel(blob []byte) (*SoundModel, error) {
	const globalHeaderSize = 12
	if len(blob) < globalHeaderSize {
		return nil, fmt.Errorf("sound model blob too short: %d bytes", len(blob))
	}

	hdr := GlobalHeader{
		MagicNumber:  binary.LittleEndian.Uint32(blob[0:4]),
		PayloadBytes: binary.LittleEndian.Uint32(blob[4:8]),
		ModelVersion: binary.LittleEndian.Uint32(blob[8:12]),
	}
	if hdr.MagicNumber != GlobalHeaderMagic {
		return nil, fmt.Errorf("bad sound model magic: 0x%08x", hdr.MagicNumber)
	}
	if hdr.ModelVersion != ModelVersionV3 {
		return nil, fmt.Errorf("unsupported sound model version: 0x%04x", hdr.ModelVersion)
	}

	const maxStringLen = 200
	off := globalHeaderSize
	if len(blob) < off+12+2*maxStringLen {
		return nil, fmt.Errorf("sound model blob truncated in v3 header")
	}
	numModels := binary.LittleEndian.Uint32(blob[off : off+4])
	kwLen := binary.LittleEndian.Uint32(blob[off+4 : off+8])
	userLen := binary.LittleEndian.Uint32(blob[off+8 : off+12])
	off += 12

	kwSpell := cString(blob[off : off+maxStringLen])
	off += maxStringLen
	userName := cString(blob[off : off+maxStringLen])
	off += maxStringLen
	_, _ = kwLen, userLen

	if numModels > MaxModelsV3 {
		return nil, fmt.Errorf("too many big-models in sound model blob: %d", numModels)
	}

	const bigModelSize = 2 + 2 + 4 + 4 + 4 // versionMajor, versionMinor, offset, size, type
	models := make([]BigModel, 0, numModels)
	for i := uint32(0); i < numModels; i++ {
		if len(blob) < off+bigModelSize {
			return nil, fmt.Errorf("sound model blob truncated at model table entry %d", i)
		}
		bm := BigModel{
			VersionMajor: binary.LittleEndian.Uint16(blob[off : off+2]),
			VersionMinor: binary.LittleEndian.Uint16(blob[off+2 : off+4]),
			Offset:       binary.LittleEndian.Uint32(blob[off+4 : off+8]),
			Size:         binary.LittleEndian.Uint32(blob[off+8 : off+12]),
			Type:         binary.LittleEndian.Uint32(blob[off+12 : off+16]),
		}
		off += bigModelSize

		end := int(bm.Offset) + int(bm.Size)
		if bm.Offset > uint32(len(blob)) || end > len(blob) {
			return nil, fmt.Errorf("model %d data range [%d,%d) out of bounds", i, bm.Offset, end)
		}
		bm.Data = blob[bm.Offset:end]
		models = append(models, bm)
	}

	return &SoundModel{
		Header:       hdr,
		KeywordSpell: kwSpell,
		UserName:     userName,
		Models:       models,
	}, nil
}

// ModuleTypeOf returns the st_module_type_t-style name implied by the
// blob's stage-1 model. The core does not call it: cmd/triggerd keys the
// stage-1 engines in registry.Registry by the configured module-type
// names.
func (sm *SoundModel) ModuleTypeOf() string {
	for _, m := range sm.Models {
		if m.StageOf() == StageFirstGMM {
			if m.ThirdParty() {
				return "gmm-3p"
			}
			return "gmm"
		}
	}
	return "unknown"
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
