// Package model defines the core data types shared by the meeting processing pipeline,
// its stores, and its transports.
package model

import (
	"fmt"
	"strings"
)

// Stage is the lifecycle position of a processing job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Stage string

const (
	// StageUploaded indicates the job was accepted and is waiting for a worker.
	StageUploaded Stage = "uploaded"
	// StageTranscribing indicates the audio is being converted to text.
	StageTranscribing Stage = "transcribing"
	// StageAnalyzing indicates the transcript is being analyzed.
	StageAnalyzing Stage = "analyzing"
	// StageCompleted indicates a result was produced.
	StageCompleted Stage = "completed"
	// StageFailed indicates processing stopped because of an error or cancellation.
	StageFailed Stage = "failed"
)

// Valid returns true if the Stage is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageUploaded, StageTranscribing, StageAnalyzing, StageCompleted, StageFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed out of s.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(text []byte) error {
	v := Stage(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid stage: %q", string(text))
	}
	*s = v
	return nil
}

var stageTransitions = map[Stage][]Stage{
	StageUploaded:     {StageTranscribing, StageFailed},
	StageTranscribing: {StageAnalyzing, StageFailed},
	StageAnalyzing:    {StageCompleted, StageFailed},
}

// CanTransition reports whether a job may move from s to next.
// Staying in a non-terminal stage is allowed so progress can advance within it.
func (s Stage) CanTransition(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if s == next {
		return true
	}
	for _, allowed := range stageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
