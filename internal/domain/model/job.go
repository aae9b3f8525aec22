package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a translation job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be picked up.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates a worker is actively translating the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates all eligible fields were translated and written back.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job aborted with an error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusTimeout indicates the reaper reclaimed the job after its processing window elapsed.
	JobStatusTimeout JobStatus = "timeout"
	// JobStatusCancelled indicates the job was removed before a worker picked it up.
	JobStatusCancelled JobStatus = "cancelled"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusTimeout, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimeout, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Strategy determines whether a job translates every eligible field or only changed ones.
type Strategy string

const (
	// StrategyFull translates all eligible fields of the page.
	StrategyFull Strategy = "full"
	// StrategyDiff translates only fields that changed since the stored snapshot.
	StrategyDiff Strategy = "diff"
)

// Valid reports whether the strategy is known.
func (s Strategy) Valid() bool {
	return s == StrategyFull || s == StrategyDiff
}

// FieldMap is a flat field-name to raw-value mapping captured from page content.
// Structured field values (blocks, layout, structure) are carried as their JSON encoding.
type FieldMap map[string]string

// Clone returns a shallow copy of the map.
func (m FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// JobProgress tracks per-field progress of an in-flight job.
type JobProgress struct {
	Current      int    `json:"current"`
	Total        int    `json:"total"`
	CurrentField string `json:"currentField"`
}

// Percentage returns completed progress as a 0-100 integer.
func (p JobProgress) Percentage() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Current * 100 / p.Total
}

// JobResult aggregates token and cost accounting for a finished job.
type JobResult struct {
	TranslatedFields int     `json:"translatedFields"`
	TokensUsed       int     `json:"tokensUsed"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	Cost             float64 `json:"cost"`
	CacheHits        int     `json:"cacheHits"`
}

// Job is the unit of work drained by the translation worker.
type Job struct {
	ID                string
	PageID            string
	PageTitle         string
	VariantCode       string
	Status            JobStatus
	IsManual          bool
	SourceSnapshot    FieldMap
	Strategy          Strategy
	FieldsToTranslate []string
	Progress          JobProgress
	Result            *JobResult
	Error             string
	CreatedAt         time.Time
	StartedAt         *time.Time
}

// CreateJobRequest carries the parameters for enqueueing a new translation job.
type CreateJobRequest struct {
	PageID      string
	PageTitle   string
	VariantCode string
	Snapshot    FieldMap
	IsManual    bool
}

// Validate checks required fields of the enqueue request.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.PageID) == "" {
		return errors.New("page id is required")
	}
	if strings.TrimSpace(r.VariantCode) == "" {
		return errors.New("variant code is required")
	}
	return nil
}

// NewJobID generates an opaque job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// QueueStats summarizes job counts per lifecycle state.
type QueueStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}

// ErrNoJobsAvailable signals that the pending queue is empty.
var ErrNoJobsAvailable = errors.New("no pending jobs available")
