// Package session owns the run record persisted to
// metadata/session.json. Only the orchestrator mutates it; the core
// never deletes a session.
package session

import (
	"time"

	"github.com/google/uuid"

	"patentsmith/internal/artifact"
	"patentsmith/internal/stage"
)

// Status is the run-level lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// StageStatus is the per-stage state recorded in the session snapshot.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Session is one end-to-end run.
type Session struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Backend   string     `json:"backend"`
	Status    Status     `json:"status"`
	Stages    []StageRun `json:"stages"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// StageRun is one stage's slot in the session snapshot, in execution
// order.
type StageRun struct {
	ID       stage.ID    `json:"id"`
	Status   StageStatus `json:"status"`
	Attempts int         `json:"attempts"`
	Error    string      `json:"error,omitempty"`
}

// New creates a pending session. An empty id generates a fresh UUID.
func New(id, backendName string, now time.Time) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	stages := make([]StageRun, 0, len(stage.Catalog()))
	for _, d := range stage.Catalog() {
		stages = append(stages, StageRun{ID: d.ID, Status: StagePending})
	}
	return &Session{
		ID:        id,
		CreatedAt: now,
		Backend:   backendName,
		Status:    StatusPending,
		Stages:    stages,
	}
}

// StageRun returns a pointer to the slot for id, or nil for an unknown
// stage.
func (s *Session) StageRun(id stage.ID) *StageRun {
	for i := range s.Stages {
		if s.Stages[i].ID == id {
			return &s.Stages[i]
		}
	}
	return nil
}

// SetStage updates one stage's status and attempt count.
func (s *Session) SetStage(id stage.ID, status StageStatus, attempts int, errDetail string) {
	if run := s.StageRun(id); run != nil {
		run.Status = status
		run.Attempts = attempts
		run.Error = errDetail
	}
}

// Finish marks the session terminal.
func (s *Session) Finish(status Status, now time.Time, lastError string) {
	s.Status = status
	s.CompletedAt = &now
	s.LastError = lastError
}

// Save persists the snapshot to metadata/session.json.
func (s *Session) Save(store *artifact.Store) error {
	return store.WriteJSON(artifact.SessionMetadata, s)
}

// Load reads a previously persisted session snapshot.
func Load(store *artifact.Store) (*Session, error) {
	var s Session
	if err := store.ReadJSON(artifact.SessionMetadata, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
