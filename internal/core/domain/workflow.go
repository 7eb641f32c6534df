package domain

import "fmt"

type Phase string

const (
	PhaseUpload    Phase = "upload"
	PhaseMetadata  Phase = "metadata"
	PhaseAnalysis  Phase = "analysis"
	PhaseMatching  Phase = "matching"
	PhaseEstimates Phase = "estimates"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

var phaseOrder = map[Phase]int{
	PhaseUpload:    0,
	PhaseMetadata:  1,
	PhaseAnalysis:  2,
	PhaseMatching:  3,
	PhaseEstimates: 4,
	PhaseCompleted: 5,
}

// ProgressUpdate is delivered to workflow subscribers on every checkpoint.
type ProgressUpdate struct {
	DocumentID string `json:"document_id,omitempty"`
	Phase      Phase  `json:"phase"`
	Progress   int    `json:"progress"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

type DraftFailure struct {
	CandidateID string `json:"candidate_id"`
	Error       string `json:"error"`
}

type WorkflowResult struct {
	Document      *Document             `json:"document"`
	Metadata      *AnnouncementMetadata `json:"metadata"`
	Analysis      *AnalysisResult       `json:"analysis"`
	Matches       []MatchedCandidate    `json:"matches"`
	Drafts        []EstimateDraft       `json:"drafts"`
	DraftFailures []DraftFailure        `json:"draft_failures,omitempty"`
}

// WorkflowRun tracks one pipeline execution. Phases only move forward,
// progress never decreases and failed is terminal.
type WorkflowRun struct {
	DocumentID string
	Phase      Phase
	Progress   int
	Message    string
	Result     WorkflowResult

	started bool
}

func NewWorkflowRun() *WorkflowRun {
	return &WorkflowRun{Phase: PhaseUpload}
}

// Advance records a checkpoint. Progress is clamped to [current, 100].
func (r *WorkflowRun) Advance(phase Phase, progress int, message string, data any) (ProgressUpdate, error) {
	if r.Phase == PhaseFailed || (r.started && r.Phase == PhaseCompleted) {
		return ProgressUpdate{}, fmt.Errorf("workflow run already finished in phase %s", r.Phase)
	}
	next, ok := phaseOrder[phase]
	if !ok {
		return ProgressUpdate{}, fmt.Errorf("unknown workflow phase %q", phase)
	}
	if r.started && next < phaseOrder[r.Phase] {
		return ProgressUpdate{}, fmt.Errorf("workflow phase %s cannot follow %s", phase, r.Phase)
	}
	if progress > 100 {
		progress = 100
	}
	if progress < r.Progress {
		progress = r.Progress
	}

	r.started = true
	r.Phase = phase
	r.Progress = progress
	r.Message = message
	return ProgressUpdate{
		DocumentID: r.DocumentID,
		Phase:      phase,
		Progress:   progress,
		Message:    message,
		Data:       data,
	}, nil
}

// Fail moves the run to the terminal failed phase, keeping the progress reached.
func (r *WorkflowRun) Fail(failed Phase, err error) ProgressUpdate {
	r.Phase = PhaseFailed
	r.Message = fmt.Sprintf("%s failed: %v", failed, err)
	return ProgressUpdate{
		DocumentID: r.DocumentID,
		Phase:      PhaseFailed,
		Progress:   r.Progress,
		Message:    r.Message,
		Data:       map[string]string{"failed_phase": string(failed), "error": err.Error()},
	}
}
