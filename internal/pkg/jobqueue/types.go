package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeReconcile    JobType = "reconcile"
	JobTypeCounterFlush JobType = "counter_flush"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// MarkAsProcessing flags the job as picked up by a worker.
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.ProcessedAt = &now
	j.UpdatedAt = now
}

// MarkAsCompleted flags the job as finished.
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkAsFailed records the failure reason.
func (j *Job) MarkAsFailed(msg string) {
	j.Status = JobStatusFailed
	j.ErrorMsg = msg
	j.UpdatedAt = time.Now()
}

// MarkAsRetrying bumps the retry counter.
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.RetryCount++
	j.UpdatedAt = time.Now()
}

// IsRetryable reports whether the job still has retry budget.
func (j *Job) IsRetryable() bool {
	return j.RetryCount < j.MaxRetries
}

// ReconcileJobPayload contains the payload for reconciliation jobs
type ReconcileJobPayload struct {
	OwnerID     uint   `json:"owner_id"`
	CustomerRef string `json:"customer_ref"`
}

// ToMap converts the payload to a map for storage
func (p ReconcileJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"owner_id":     p.OwnerID,
		"customer_ref": p.CustomerRef,
	}
}

// ReconcileJobPayloadFromMap creates a payload from a map
func ReconcileJobPayloadFromMap(data map[string]interface{}) (*ReconcileJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ReconcileJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}
