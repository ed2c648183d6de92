package domain

import "time"

type (
	SessionName string
	ConnID      string
)

// Artifact is the cached project snapshot of a session, already translated
// into the markup form clients load into their workspace.
type Artifact struct {
	XML        string    `json:"-"`
	Targets    int       `json:"targets"`
	Blocks     int       `json:"blocks"`
	Size       int       `json:"size"`
	Digest     string    `json:"digest"`
	UploadedAt time.Time `json:"uploaded_at"`
}
