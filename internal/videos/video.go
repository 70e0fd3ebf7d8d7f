// Package videos is the video catalog: metadata, access rules, and the
// normalized transcript stored for each video.
package videos

import (
	"time"

	"github.com/nugget/vidchat/internal/transcript"
)

// Visibility controls who may load a video.
type Visibility string

const (
	Public   Visibility = "public"
	Unlisted Visibility = "unlisted"
	Private  Visibility = "private"
)

// Status is the processing state of a video.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Video is one catalog entry.
type Video struct {
	ID              string               `json:"id"`
	OwnerID         string               `json:"owner_id"`
	Title           string               `json:"title"`
	Description     string               `json:"description,omitempty"`
	Summary         string               `json:"summary,omitempty"`
	DurationSeconds float64              `json:"duration_seconds,omitempty"`
	Visibility      Visibility           `json:"visibility"`
	Status          Status               `json:"status"`
	TranscriptText  string               `json:"transcript_text,omitempty"`
	Segments        []transcript.Segment `json:"segments,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// HasTranscript reports whether any transcript content is stored.
func (v *Video) HasTranscript() bool {
	return len(v.Segments) > 0 || v.TranscriptText != ""
}

func validVisibility(v Visibility) bool {
	switch v {
	case Public, Unlisted, Private:
		return true
	}
	return false
}

func validStatus(s Status) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}
