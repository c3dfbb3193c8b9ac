// Package domain provides domain models and business logic for the Paper Processing Service.
package domain

// ProcessingStatus represents the lifecycle states of a paper moving through
// the processing pipeline. These values must match the database enum processing_status.
type ProcessingStatus string

const (
	StatusUploaded                ProcessingStatus = "uploaded"
	StatusQueued                  ProcessingStatus = "queued"
	StatusProcessing              ProcessingStatus = "processing"
	StatusExtractingEntities      ProcessingStatus = "extracting_entities"
	StatusExtractingRelationships ProcessingStatus = "extracting_relationships"
	StatusBuildingGraph           ProcessingStatus = "building_graph"
	StatusAnalyzed                ProcessingStatus = "analyzed"
	StatusImplementationReady     ProcessingStatus = "implementation_ready"
	StatusError                   ProcessingStatus = "error"
)

// statusOrdinals defines the pipeline position of each status. StatusError sits
// outside the ordering and compares past nothing.
var statusOrdinals = map[ProcessingStatus]int{
	StatusUploaded:                0,
	StatusQueued:                  1,
	StatusProcessing:              2,
	StatusExtractingEntities:      3,
	StatusExtractingRelationships: 4,
	StatusBuildingGraph:           5,
	StatusAnalyzed:                6,
	StatusImplementationReady:     7,
}

// IsValid returns true if the status is one of the known enum values.
func (s ProcessingStatus) IsValid() bool {
	if s == StatusError {
		return true
	}
	_, ok := statusOrdinals[s]
	return ok
}

// IsTerminal returns true if the status represents a settled state.
// StatusError is settled but can re-enter the pipeline via an explicit replay,
// which transitions the paper back to StatusQueued.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusImplementationReady || s == StatusError
}

// Next returns the status that follows s in the forward pipeline chain, or
// false for the last status, StatusError, and unknown values. A replayed task
// relies on this to re-walk the chain from queued up to its stage target.
func (s ProcessingStatus) Next() (ProcessingStatus, bool) {
	ord, ok := statusOrdinals[s]
	if !ok {
		return "", false
	}
	for status, o := range statusOrdinals {
		if o == ord+1 {
			return status, true
		}
	}
	return "", false
}

// Progress reports how far through the pipeline the status is, as a fraction
// in [0, 1]. StatusError and unknown values have no pipeline position.
func (s ProcessingStatus) Progress() (float64, bool) {
	ord, ok := statusOrdinals[s]
	if !ok {
		return 0, false
	}
	return float64(ord) / float64(len(statusOrdinals)-1), true
}

// AtOrPast reports whether s has reached target in the pipeline ordering.
// StatusError is never considered at or past any pipeline stage, so an
// errored paper is always eligible for reprocessing.
func (s ProcessingStatus) AtOrPast(target ProcessingStatus) bool {
	so, ok := statusOrdinals[s]
	if !ok {
		return false
	}
	to, ok := statusOrdinals[target]
	if !ok {
		return false
	}
	return so >= to
}

// Stage identifies one step of the paper pipeline, implemented by an external
// stage handler. These are the only dispatchable units of work; there is no
// dynamic string-pattern dispatch.
type Stage string

const (
	StageProcess               Stage = "process"
	StageExtractEntities       Stage = "extract_entities"
	StageExtractRelationships  Stage = "extract_relationships"
	StageBuildGraph            Stage = "build_graph"
	StageAnalyze               Stage = "analyze"
	StagePrepareImplementation Stage = "prepare_implementation"
)

// stageTargets maps each stage to the status committed when the stage's
// handler succeeds.
var stageTargets = map[Stage]ProcessingStatus{
	StageProcess:               StatusProcessing,
	StageExtractEntities:       StatusExtractingEntities,
	StageExtractRelationships:  StatusExtractingRelationships,
	StageBuildGraph:            StatusBuildingGraph,
	StageAnalyze:               StatusAnalyzed,
	StagePrepareImplementation: StatusImplementationReady,
}

// Stages returns all pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{
		StageProcess,
		StageExtractEntities,
		StageExtractRelationships,
		StageBuildGraph,
		StageAnalyze,
		StagePrepareImplementation,
	}
}

// IsValid returns true if the stage is one of the known pipeline stages.
func (s Stage) IsValid() bool {
	_, ok := stageTargets[s]
	return ok
}

// TargetStatus returns the status a successful run of this stage commits.
// Returns false for unknown stages.
func (s Stage) TargetStatus() (ProcessingStatus, bool) {
	st, ok := stageTargets[s]
	return st, ok
}

// Next returns the stage that follows s in the pipeline, or false if s is the
// last stage or unknown.
func (s Stage) Next() (Stage, bool) {
	order := Stages()
	for i, stage := range order {
		if stage == s && i+1 < len(order) {
			return order[i+1], true
		}
	}
	return "", false
}
