// Package vui implements the Voice-UI interface boundary: the opaque
// vendor plugin that parses sound-model blobs and recognition-config
// payloads into normalized fields (spec.md §1, §3, §6). This package
// supplies both the interface (vui.Interface) and a concrete, in-process
// default implementation so the core is runnable without an external
// vendor plugin loaded.
package vui

// ParamID is the parameter-bus key shared by the voice-UI interface,
// ported 1:1 from spec.md §6's enum.
type ParamID int

const (
	ParamFStageSoundModelType ParamID = iota
	ParamFStageSoundModelID
	ParamFStageSoundModelState
	ParamFStageSoundModelAdd
	ParamFStageSoundModelDelete
	ParamFStageBufferingConfig
	ParamFStageDetectionUVScore
	ParamSStageKWConfLevel
	ParamSStageUVConfLevel
	ParamSStageKWDetLevel
	ParamSStageUVDetLevel
	ParamSoundModelList
	ParamRecognitionMode
	ParamRecognitionConfig
	ParamDetectionResult
	ParamDetectionEvent
	ParamDetectionStream
	ParamKeywordIndex
	ParamKeywordStats
	ParamFTRTData
	ParamFTRTDataSize
	ParamLABReadOffset
	ParamStreamAttributes
	ParamDefaultBufferConfig
	ParamInterfaceProperty
	ParamSoundModelLoad
	ParamSoundModelUnload
	ParamWakeupConfig
	ParamCustomConfig
	ParamBufferingConfig
	ParamEngineReset
	ParamDetectionStreamList
)

// ProcessID is the one-off processing call id of spec.md §6.
type ProcessID int

const (
	ProcessLABData ProcessID = iota
)

// Param is the general parameter-bus envelope of spec.md §6
// ("vui_intf_param_t"): a stream identity, and a payload of opaque shape
// agreed per ParamID.
type Param struct {
	StreamID string
	Value    interface{}
}
