// Package registry records playback sessions so other processes can see
// which sessions are running and how they are doing.
package registry

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session id is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// Status is the lifecycle state of a playback session.
type Status string

const (
	StatusStarting Status = "starting"
	StatusPlaying  Status = "playing"
	StatusError    Status = "error"
	StatusStopped  Status = "stopped"
)

// Session describes one player instance.
type Session struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	Backend       string    `json:"backend"`
	AudioFormat   string    `json:"audio_format,omitempty"`
	VideoFormat   string    `json:"video_format,omitempty"`
	Error         string    `json:"error,omitempty"`
	Host          string    `json:"host,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`

	Stats *SessionStats `json:"stats,omitempty"`
}

// SessionStats is the per-session counter summary published with each
// heartbeat.
type SessionStats struct {
	AudioDecoded uint64 `json:"audio_decoded"`
	VideoDecoded uint64 `json:"video_decoded"`
	Dropped      uint64 `json:"dropped"`
	AudioQueued  int    `json:"audio_queued"`
	VideoQueued  int    `json:"video_queued"`
}

// Registry stores sessions.
type Registry interface {
	// Register adds or refreshes a session. CreatedAt of an existing
	// session is preserved.
	Register(ctx context.Context, session *Session) error
	Unregister(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	UpdateHeartbeat(ctx context.Context, id string) error
	// UpdateStatus sets the status and error message together.
	UpdateStatus(ctx context.Context, id string, status Status, message string) error
	UpdateStats(ctx context.Context, id string, stats *SessionStats) error
	Close() error
}
