package novel

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is the self-describing export format of a job's state.
type Snapshot struct {
	SchemaVersion int       `json:"schema_version"`
	JobID         string    `json:"job_id"`
	ResumeNode    string    `json:"resume_node,omitempty"`
	SavedAt       time.Time `json:"saved_at"`
	State         State     `json:"state"`
}

// EncodeSnapshot wraps s in a Snapshot envelope. The resume node is the
// paused node when the job is waiting for a decision.
func EncodeSnapshot(s State, savedAt time.Time) ([]byte, error) {
	resume := s.ResumeNode
	if resume == "" && s.PendingDecision != nil {
		resume = s.PendingDecision.Node
	}
	return json.MarshalIndent(Snapshot{
		SchemaVersion: SchemaVersion,
		JobID:         s.JobID,
		ResumeNode:    resume,
		SavedAt:       savedAt.UTC(),
		State:         s,
	}, "", "  ")
}

// DecodeSnapshot reads a Snapshot envelope. A snapshot of another schema
// version returns ErrSchemaVersion.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var header struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if header.SchemaVersion != SchemaVersion {
		return Snapshot{}, fmt.Errorf("%w: snapshot has version %d, want %d", ErrSchemaVersion, header.SchemaVersion, SchemaVersion)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.State.SchemaVersion != SchemaVersion {
		return Snapshot{}, fmt.Errorf("%w: state has version %d, want %d", ErrSchemaVersion, snap.State.SchemaVersion, SchemaVersion)
	}
	return snap, nil
}
