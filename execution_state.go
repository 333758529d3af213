package swflow

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ExecutionState is the checkpointable part of an execution. It is safe
// for concurrent use.
type ExecutionState struct {
	mutex        sync.RWMutex
	executionID  string
	workflowName string
	status       ExecutionStatus
	startTime    time.Time
	endTime      time.Time
	err          string
	inputs       map[string]any
	pathCounter  int
	pathStates   map[string]*PathState
}

func newExecutionState(executionID, workflowName string, inputs map[string]any) *ExecutionState {
	return &ExecutionState{
		executionID:  executionID,
		workflowName: workflowName,
		status:       ExecutionStatusPending,
		inputs:       copyMap(inputs),
		pathStates:   map[string]*PathState{},
	}
}

func (s *ExecutionState) ID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.executionID
}

func (s *ExecutionState) SetID(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.executionID = id
}

func (s *ExecutionState) GetStatus() ExecutionStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.status
}

// SetStatus updates the status. Any status but failed clears the error.
func (s *ExecutionState) SetStatus(status ExecutionStatus) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.status = status
	if status != ExecutionStatusFailed {
		s.err = ""
	}
}

// SetError records err and marks the execution failed. A nil err only
// clears the recorded error.
func (s *ExecutionState) SetError(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err == nil {
		s.err = ""
		return
	}
	s.err = err.Error()
	s.status = ExecutionStatusFailed
}

func (s *ExecutionState) GetError() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.err == "" {
		return nil
	}
	return errors.New(s.err)
}

func (s *ExecutionState) SetTiming(startTime, endTime time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.startTime = startTime
	s.endTime = endTime
}

func (s *ExecutionState) GetStartTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.startTime
}

// SetFinished records the final status, end time and error together.
func (s *ExecutionState) SetFinished(status ExecutionStatus, endTime time.Time, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.status = status
	s.endTime = endTime
	s.err = ""
	if err != nil {
		s.err = err.Error()
	}
}

// GetInputs returns a shallow copy of the input document.
func (s *ExecutionState) GetInputs() map[string]any {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return copyMap(s.inputs)
}

// NextPathID returns a path ID derived from baseID, e.g. "main-3". The
// counter is shared by all paths so IDs never repeat.
func (s *ExecutionState) NextPathID(baseID string) string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pathCounter++
	return fmt.Sprintf("%s-%d", baseID, s.pathCounter)
}

func (s *ExecutionState) SetPathState(pathID string, state *PathState) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pathStates[pathID] = state.Copy()
}

// UpdatePathState applies fn to the stored state of pathID, if any.
func (s *ExecutionState) UpdatePathState(pathID string, fn func(*PathState)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if state, ok := s.pathStates[pathID]; ok {
		fn(state)
	}
}

// GetPathStates returns a copy of every path state.
func (s *ExecutionState) GetPathStates() map[string]*PathState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return copyPathStates(s.pathStates)
}

// GetFailedPathIDs returns the sorted IDs of failed paths.
func (s *ExecutionState) GetFailedPathIDs() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var ids []string
	for id, state := range s.pathStates {
		if state.Status == PathStatusFailed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ToCheckpoint snapshots the state. The caller assigns the checkpoint ID.
func (s *ExecutionState) ToCheckpoint() *Checkpoint {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return &Checkpoint{
		ExecutionID:  s.executionID,
		WorkflowName: s.workflowName,
		Status:       string(s.status),
		Inputs:       copyMap(s.inputs),
		PathStates:   copyPathStates(s.pathStates),
		PathCounter:  s.pathCounter,
		Error:        s.err,
		StartTime:    s.startTime,
		EndTime:      s.endTime,
		CheckpointAt: time.Now(),
	}
}

// FromCheckpoint replaces the state with the contents of checkpoint.
func (s *ExecutionState) FromCheckpoint(checkpoint *Checkpoint) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.executionID = checkpoint.ExecutionID
	s.workflowName = checkpoint.WorkflowName
	s.status = ExecutionStatus(checkpoint.Status)
	s.inputs = copyMap(checkpoint.Inputs)
	s.pathStates = copyPathStates(checkpoint.PathStates)
	s.pathCounter = checkpoint.PathCounter
	s.startTime = checkpoint.StartTime
	s.endTime = checkpoint.EndTime
	s.err = checkpoint.Error
}

func copyMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

func copyPathStates(m map[string]*PathState) map[string]*PathState {
	result := make(map[string]*PathState, len(m))
	for k, v := range m {
		result[k] = v.Copy()
	}
	return result
}
