// Package stplugin defines the stage-2 verification algorithm's dynamic
// plugin ABI as a narrow Go interface (spec.md §4.3 "Plugin contract",
// §9 "Plugin loading"). The core depends only on this interface, never on
// a concrete plugin's loading mechanism, which is the redesign spec.md §9
// asks for: "preserve the dynamic-load entry point behind a narrow
// capability interface... the core should depend only on that interface,
// not on the plugin ABI." A dynamically-loaded .so implementation can
// satisfy this interface via Go plugin or cgo without the rest of the
// tree changing.
package stplugin

import "fmt"

// ParamID is one of the plugin parameter ids spec.md §4.3 names.
type ParamID int

const (
	ParamThresholdConfig ParamID = iota
	ParamReinitAll
	ParamResult
	// User-verification specific:
	ParamInModelBufferSize
	ParamScratchParam
	ParamStage1UVScore
)

// Result is the decoded RESULT parameter payload.
type Result struct {
	IsDetected bool
	Confidence int32
	UserScore  int32 // meaningful for user-verification plugins only
}

// Handle is an opaque per-(stream,algorithm) plugin session token
// returned by Init.
type Handle interface{}

// InitProperties carries everything Init needs: the raw model blob for
// this algorithm's stage, plus the algorithm kind so a multi-algorithm
// plugin binary can dispatch internally.
type InitProperties struct {
	ModelBytes []byte
	Algorithm  Algorithm
}

// Algorithm distinguishes the three kinds spec.md §3 names.
type Algorithm int

const (
	AlgorithmKeywordDetection Algorithm = iota
	AlgorithmUserVerification
	AlgorithmCustom
)

// Plugin is the abstract v-table of spec.md §4.3: init, process,
// get_param, set_param, end.
type Plugin interface {
	Init(props InitProperties) (Handle, error)
	Process(h Handle, frames []byte) error
	SetParam(h Handle, id ParamID, payload []byte) error
	GetParam(h Handle, id ParamID) ([]byte, error)
	End(h Handle) error
}

// ErrFail is returned by Process when the plugin rejects the input
// outright (spec.md §7 "PluginFailure").
var ErrFail = fmt.Errorf("stage-2 plugin process failed")
