package upload

import (
	"io"
	"time"
)

// SessionID is the opaque handle clients poll with.
type SessionID string

// Stage is the current phase of an upload session.
type Stage string

const (
	StageValidating Stage = "validating"
	StageUploading  Stage = "uploading"
	StageProcessing Stage = "processing"
	StageCompleted  Stage = "completed"
	StageError      Stage = "error"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// rank orders stages along the lifecycle; both terminal stages share the top rank.
func (s Stage) rank() int {
	switch s {
	case StageValidating:
		return 0
	case StageUploading:
		return 1
	case StageProcessing:
		return 2
	case StageCompleted, StageError:
		return 3
	default:
		return -1
	}
}

// Progress bands. Uploading fills 0..uploadBand in proportion to bytes,
// processing fills uploadBand..processingBand in proportion to steps.
const (
	uploadBand     = 80
	processingBand = 99
)

// Session is a snapshot of one upload's lifecycle. Stores hand out copies;
// a Session value is never mutated after it has been written.
type Session struct {
	ID              SessionID `json:"sessionId"`
	Kind            KindName  `json:"kind"`
	ScopeID         string    `json:"scopeId"`
	FileName        string    `json:"fileName"`
	Stage           Stage     `json:"stage"`
	ProgressPercent int       `json:"progressPercent"`
	Message         string    `json:"message"`
	BytesUploaded   int64     `json:"bytesUploaded"`
	TotalBytes      int64     `json:"totalBytes"`
	ResultRef       string    `json:"resultRef,omitempty"`
	Error           *Error    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Request is one upload submission.
type Request struct {
	Kind     KindName
	ScopeID  string
	Title    string
	FileName string
	// Size is the size declared by the client, 0 if unknown. The real size
	// is measured while the body is read.
	Size int64
	Body io.Reader
}
