package domain

import (
	"encoding/json"
	"time"
)

// Image roles in canonical order: index 0 is the subject, index 1 the lighting reference.
const (
	RoleMain      = "main"
	RoleReference = "reference"
)

// JobInput is the raw, loosely typed job payload as decoded from JSON.
type JobInput map[string]any

// CanonicalInput is the normalized job. Images always holds the main image
// first and the reference image second.
type CanonicalInput struct {
	Prompt string    `json:"prompt"`
	Images [2]string `json:"images"`
	Steps  int       `json:"steps"`
	CFG    float64   `json:"cfg"`
	Seed   *int64    `json:"seed,omitempty"`
}

// MainImage returns the subject image reference.
func (c CanonicalInput) MainImage() string { return c.Images[0] }

// ReferenceImage returns the lighting reference image.
func (c CanonicalInput) ReferenceImage() string { return c.Images[1] }

// RefKind tags an ImageRef.
type RefKind int

const (
	RefInline RefKind = iota
	RefURL
)

func (k RefKind) String() string {
	switch k {
	case RefURL:
		return "url"
	case RefInline:
		return "inline"
	default:
		return "unknown"
	}
}

// ImageRef is a classified image reference. For RefURL Value is the URL, for
// RefInline it is the string as supplied (possibly with a data-URI prefix).
type ImageRef struct {
	Kind  RefKind
	Value string
}

// NamedImage pairs an image reference with the name it is uploaded under.
type NamedImage struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// UploadStatus is the outcome of a single image upload or of a whole batch.
type UploadStatus string

const (
	UploadSuccess UploadStatus = "success"
	UploadFailure UploadStatus = "failure"
)

// BatchStatus values reported for an upload batch.
const (
	BatchSuccess = "success"
	BatchError   = "error"
)

// UploadResult records what happened to one image.
type UploadResult struct {
	Name   string       `json:"name"`
	Status UploadStatus `json:"status"`
	Kind   string       `json:"kind,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// UploadBatch aggregates per-image results in input order.
type UploadBatch struct {
	Status  string         `json:"status"`
	Details []UploadResult `json:"details"`
}

// Succeeded reports whether every image in the batch was uploaded.
func (b UploadBatch) Succeeded() bool {
	return b.Status == BatchSuccess
}

// OutputImage is a single generated image returned by the backend.
type OutputImage struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Data     string `json:"data"`
}

// JobResult is the structured outcome handed back to the caller.
type JobResult struct {
	Images  []OutputImage  `json:"images,omitempty"`
	Seed    *int64         `json:"seed,omitempty"`
	Error   string         `json:"error,omitempty"`
	Status  string         `json:"status,omitempty"`
	Details []UploadResult `json:"details,omitempty"`
}

// Failed reports whether the job produced an error result.
func (r JobResult) Failed() bool {
	return r.Error != ""
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "IN_QUEUE"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Job is the persisted record of an asynchronous relight job.
type Job struct {
	ID           string
	Status       JobStatus
	InputJSON    json.RawMessage
	OutputJSON   json.RawMessage
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
