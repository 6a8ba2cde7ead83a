// Package collab implements CollaborationState: the per-session, revisioned,
// shared key-value map owned exclusively by the Flow Orchestrator. Agent
// Runtime instances only ever see a read-only snapshot taken at a
// point-in-time revision; writes land in a per-task staging map and are
// committed back atomically by the Agent Runtime's Executor once its
// Think-Act-Reflect cycles end (also when the final Reflect missed the
// quality threshold).
package collab

import (
	"sync"

	"github.com/reqflow/reqflow/pkg/domain"
)

// Snapshot is a read-only, point-in-time copy of the shared-data map plus
// the revision it was taken at and the per-role agent-status map.
type Snapshot struct {
	Revision int64
	Data     map[string]string
	Roles    map[string]domain.AgentStatus
}

// State is one session's CollaborationState. All mutation is serialized
// through a single per-session lock; readers take a copy-on-read snapshot
// instead of holding the lock.
type State struct {
	mu       sync.RWMutex
	revision int64
	data     map[string]string
	roles    map[string]domain.AgentStatus
}

// New creates an empty CollaborationState for a session.
func New() *State {
	return &State{
		data:  make(map[string]string),
		roles: make(map[string]domain.AgentStatus),
	}
}

// Snapshot takes a copy-on-read of the current revision. Safe for
// concurrent readers; never blocks a writer for longer than the copy.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := make(map[string]string, len(s.data))
	for k, v := range s.data {
		data[k] = v
	}
	roles := make(map[string]domain.AgentStatus, len(s.roles))
	for k, v := range s.roles {
		roles[k] = v
	}
	return Snapshot{Revision: s.revision, Data: data, Roles: roles}
}

// Revision returns the current revision number without taking a full
// snapshot, used by callers that only need to compare "has anything
// changed since I last looked".
func (s *State) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// SetRoleStatus updates one role's agent status. Counts as a commit: it
// bumps the revision exactly once, matching the invariant that every
// state-delta event carries the post-commit revision.
func (s *State) SetRoleStatus(role string, status domain.AgentStatus) (revision int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role] = status
	s.revision++
	return s.revision
}

// CommitStaging applies a task's staging map (last-writer-wins) to the
// shared-data map in one atomic step, incrementing the revision exactly
// once regardless of how many keys changed. Returns the post-commit
// revision and the set of changed keys, used to build the StateDeltaPayload
// for the Event Bus.
func (s *State) CommitStaging(staging map[string]string) (revision int64, changed map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed = make(map[string]string, len(staging))
	for k, v := range staging {
		s.data[k] = v
		changed[k] = v
	}
	s.revision++
	return s.revision, changed
}
