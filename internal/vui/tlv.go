package vui

import (
	"encoding/binary"
	"fmt"
)

// ParamKey is the st_param_key_t of spec.md §6, keying each TLV entry of
// the recognition-config opaque payload.
type ParamKey uint32

const (
	KeyConfidenceLevels ParamKey = iota
	KeyHistoryBufferConfig
	KeyKeywordIndices
	KeyTimestamp
	KeyDetectionPerfMode
	KeyContextRecognitionInfo
	KeyContextEventInfo
)

// TLV is one decoded entry of the recognition-config opaque payload: a
// packed {key_id, payload_size} header (original_source's st_param_header)
// followed by payload_size bytes.
type TLV struct {
	Key     ParamKey
	Payload []byte
}

// ParseTLVs decodes a sequence of TLVs from a recognition-config opaque
// payload (spec.md §6).
func ParseTLVs(data []byte) ([]TLV, error) {
	const headerSize = 8 // uint32 key_id + uint32 payload_size, packed
	var out []TLV
	off := 0
	for off < len(data) {
		if len(data)-off < headerSize {
			return nil, fmt.Errorf("truncated TLV header at offset %d", off)
		}
		key := ParamKey(binary.LittleEndian.Uint32(data[off : off+4]))
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		off += headerSize
		if uint32(len(data)-off) < size {
			return nil, fmt.Errorf("truncated TLV payload for key %d at offset %d", key, off)
		}
		out = append(out, TLV{Key: key, Payload: data[off : off+int(size)]})
		off += int(size)
	}
	return out, nil
}

// EncodeTLVs is the inverse of ParseTLVs. Nothing else in this module
// calls it; the reference vui.Interface only decodes.
func EncodeTLVs(tlvs []TLV) []byte {
	var out []byte
	var hdr [8]byte
	for _, t := range tlvs {
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(t.Key))
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(t.Payload)))
		out = append(out, hdr[:]...)
		out = append(out, t.Payload...)
	}
	return out
}

// HistoryBufferConfig is the decoded payload of KeyHistoryBufferConfig,
// durations in milliseconds (GLOSSARY "Pre-roll / history buffer").
type HistoryBufferConfig struct {
	HistoryMs uint32
	PrerollMs uint32
}

// DecodeHistoryBufferConfig decodes an 8-byte history/preroll payload.
func DecodeHistoryBufferConfig(payload []byte) (HistoryBufferConfig, error) {
	if len(payload) < 8 {
		return HistoryBufferConfig{}, fmt.Errorf("history buffer config payload too short")
	}
	return HistoryBufferConfig{
		HistoryMs: binary.LittleEndian.Uint32(payload[0:4]),
		PrerollMs: binary.LittleEndian.Uint32(payload[4:8]),
	}, nil
}

// EncodeHistoryBufferConfig is the inverse of DecodeHistoryBufferConfig.
func EncodeHistoryBufferConfig(cfg HistoryBufferConfig) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], cfg.HistoryMs)
	binary.LittleEndian.PutUint32(buf[4:8], cfg.PrerollMs)
	return buf
}

// KeywordIndices is the decoded payload of KeyKeywordIndices (byte
// offsets of keyword start/end within the detection epoch).
type KeywordIndices struct {
	StartIndex uint32
	EndIndex   uint32
}

// DecodeKeywordIndices decodes an 8-byte start/end index payload.
func DecodeKeywordIndices(payload []byte) (KeywordIndices, error) {
	if len(payload) < 8 {
		return KeywordIndices{}, fmt.Errorf("keyword indices payload too short")
	}
	return KeywordIndices{
		StartIndex: binary.LittleEndian.Uint32(payload[0:4]),
		EndIndex:   binary.LittleEndian.Uint32(payload[4:8]),
	}, nil
}
