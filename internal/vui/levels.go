package vui

// ConfLevel is one per-phrase or per-user confidence threshold
// (spec.md §6 SSTAGE_*_CONF_LEVEL / SSTAGE_*_DET_LEVEL).
type ConfLevel struct {
	Index     uint32 // phrase or user index
	Threshold uint8  // 0-100
}

// MergePolicy describes how per-stream buffer and confidence requirements
// are combined into the one shared value the stage-1 engine pushes to the
// DSP (spec.md §4.2 "update_buf_config... Merge-max across streams" and
// spec.md §3 "The shared capture profile... is the maximum across all
// active streams"). The candidate/threshold shape below is grounded on
// ssrc_manager.go's attemptConfidenceBasedMapping: gather every stream's
// requested value as a candidate, then fold to the single value that
// satisfies every candidate's constraint.
type MergePolicy struct{}

// MergeHistoryBuffer folds a set of per-stream history/preroll requests
// into the single value that satisfies all of them: the maximum of each
// field, per spec.md §4.2.
func MergeHistoryBuffer(cfgs []HistoryBufferConfig) HistoryBufferConfig {
	var merged HistoryBufferConfig
	for _, c := range cfgs {
		if c.HistoryMs > merged.HistoryMs {
			merged.HistoryMs = c.HistoryMs
		}
		if c.PrerollMs > merged.PrerollMs {
			merged.PrerollMs = c.PrerollMs
		}
	}
	return merged
}

// MergeConfLevels folds per-stream confidence levels for the same phrase
// index into the most permissive threshold the DSP graph has to enforce
// (the minimum required confidence across every stream that cares about
// that phrase, since any one of them accepting the detection is enough
// to wake the corresponding stream's stage-2 engines).
func MergeConfLevels(perStream [][]ConfLevel) []ConfLevel {
	byIndex := make(map[uint32]uint8)
	seen := make(map[uint32]bool)
	for _, levels := range perStream {
		for _, l := range levels {
			if cur, ok := byIndex[l.Index]; !ok || l.Threshold < cur {
				byIndex[l.Index] = l.Threshold
			}
			seen[l.Index] = true
		}
	}
	out := make([]ConfLevel, 0, len(byIndex))
	for idx, thresh := range byIndex {
		out = append(out, ConfLevel{Index: idx, Threshold: thresh})
	}
	return out
}
