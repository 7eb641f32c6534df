package domain

import "time"

type AnalysisStatus string

const (
	AnalysisQueued    AnalysisStatus = "queued"
	AnalysisRunning   AnalysisStatus = "running"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisCompleted || s == AnalysisFailed
}

type AnalysisJob struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Status     AnalysisStatus  `json:"status"`
	Progress   int             `json:"progress"`
	Message    string          `json:"message,omitempty"`
	Result     *AnalysisResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Finding struct {
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Severity string `json:"severity,omitempty"`
}

type Requirement struct {
	Title     string   `json:"title"`
	Detail    string   `json:"detail,omitempty"`
	Mandatory bool     `json:"mandatory"`
	Skills    []string `json:"skills,omitempty"`
}

type AnalysisResult struct {
	RiskScore    float64       `json:"risk_score"`
	RiskLevel    string        `json:"risk_level"`
	Risks        []Finding     `json:"risks"`
	Issues       []Finding     `json:"issues"`
	Requirements []Requirement `json:"requirements"`
}

type AnalysisEventStatus string

const (
	EventProgress  AnalysisEventStatus = "progress"
	EventCompleted AnalysisEventStatus = "completed"
	EventFailed    AnalysisEventStatus = "failed"
)

// AnalysisEvent is one message on a job's progress stream.
type AnalysisEvent struct {
	JobID    string              `json:"job_id"`
	Status   AnalysisEventStatus `json:"status"`
	Progress int                 `json:"progress"`
	Message  string              `json:"message,omitempty"`
	Result   *AnalysisResult     `json:"result,omitempty"`
	Error    string              `json:"error,omitempty"`
}

func (e AnalysisEvent) Terminal() bool {
	return e.Status == EventCompleted || e.Status == EventFailed
}

// SnapshotEvent renders the persisted job state as a stream event.
func (j *AnalysisJob) SnapshotEvent() AnalysisEvent {
	ev := AnalysisEvent{
		JobID:    j.ID,
		Status:   EventProgress,
		Progress: j.Progress,
		Message:  j.Message,
	}
	switch j.Status {
	case AnalysisCompleted:
		ev.Status = EventCompleted
		ev.Progress = 100
		ev.Result = j.Result
	case AnalysisFailed:
		ev.Status = EventFailed
		ev.Error = j.Error
	}
	return ev
}
