// Package historystore persists the recording-history ledger: one row per
// recording, created when it starts and completed when it stops, surfaced
// through the control-plane API's
// GET /v1/recordings endpoint.
package historystore

import (
	"time"

	"github.com/google/uuid"
)

// Recording is the recording-history ledger row (§3 "Recording session
// record"). One row is created when a recording starts and updated once,
// in place, when it reaches a terminal stop.
type Recording struct {
	ID          uuid.UUID  `gorm:"primarykey;type:varchar(36)" json:"id"`
	RecorderID  string     `gorm:"index;not null" json:"recorder_id"`
	ResolvedURL string     `gorm:"not null" json:"resolved_url"`
	RecDir      string     `gorm:"not null" json:"rec_dir"`
	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	StopReason  *string    `json:"stop_reason,omitempty"`
	StopErrorID *string    `json:"stop_error_id,omitempty"`

	SectionsWritten int   `gorm:"not null;default:0" json:"sections_written"`
	SegmentsWritten int   `gorm:"not null;default:0" json:"segments_written"`
	BytesWritten    int64 `gorm:"not null;default:0" json:"bytes_written"`
}

// TableName pins the table name rather than letting GORM pluralize it.
func (Recording) TableName() string {
	return "recordings"
}
