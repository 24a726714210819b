// Package api defines the autocoder backend data model and an HTTP client for it.
package api

import (
	"fmt"
	"regexp"
	"time"
)

// AgentStatus is the lifecycle state of a project's agent process.
type AgentStatus string

const (
	AgentStopped AgentStatus = "stopped"
	AgentRunning AgentStatus = "running"
	AgentPaused  AgentStatus = "paused"
	AgentCrashed AgentStatus = "crashed"
)

// ParseAgentStatus validates a status string from the wire.
func ParseAgentStatus(s string) (AgentStatus, error) {
	switch st := AgentStatus(s); st {
	case AgentStopped, AgentRunning, AgentPaused, AgentCrashed:
		return st, nil
	}
	return "", fmt.Errorf("unknown agent status %q", s)
}

// Label returns the display label for the status.
func (s AgentStatus) Label() string {
	switch s {
	case AgentRunning:
		return "Running"
	case AgentPaused:
		return "Paused"
	case AgentCrashed:
		return "Crashed"
	default:
		return "Stopped"
	}
}

// Command is an agent lifecycle command. The value is the URL path segment.
type Command string

const (
	CommandStart  Command = "start"
	CommandStop   Command = "stop"
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
)

// ParseCommand validates a command name.
func ParseCommand(s string) (Command, error) {
	switch c := Command(s); c {
	case CommandStart, CommandStop, CommandPause, CommandResume:
		return c, nil
	}
	return "", fmt.Errorf("unknown command %q", s)
}

// FeatureStatus is the lifecycle state of a feature.
type FeatureStatus string

const (
	FeaturePending    FeatureStatus = "pending"
	FeatureInProgress FeatureStatus = "in_progress"
	FeatureDone       FeatureStatus = "done"
)

// Feature is a unit of work tracked per project.
type Feature struct {
	ID          int      `json:"id"`
	Priority    int      `json:"priority"`
	Category    string   `json:"category"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
	Passes      bool     `json:"passes"`
	InProgress  bool     `json:"in_progress"`
}

// Status derives the feature's lifecycle state.
func (f Feature) Status() FeatureStatus {
	switch {
	case f.Passes:
		return FeatureDone
	case f.InProgress:
		return FeatureInProgress
	default:
		return FeaturePending
	}
}

// FeatureList is a project's features partitioned by status.
type FeatureList struct {
	Pending    []Feature `json:"pending"`
	InProgress []Feature `json:"in_progress"`
	Done       []Feature `json:"done"`
}

// FeatureCounts holds the size of each partition.
type FeatureCounts struct {
	Pending    int
	InProgress int
	Done       int
}

// Total is the number of features across all partitions.
func (c FeatureCounts) Total() int {
	return c.Pending + c.InProgress + c.Done
}

// Counts returns partition sizes. A nil list counts as empty.
func (l *FeatureList) Counts() FeatureCounts {
	if l == nil {
		return FeatureCounts{}
	}
	return FeatureCounts{
		Pending:    len(l.Pending),
		InProgress: len(l.InProgress),
		Done:       len(l.Done),
	}
}

// Len returns the total number of features.
func (l *FeatureList) Len() int {
	return l.Counts().Total()
}

// Find looks a feature up by id in any partition.
func (l *FeatureList) Find(id int) (Feature, bool) {
	if l == nil {
		return Feature{}, false
	}
	for _, part := range [][]Feature{l.Pending, l.InProgress, l.Done} {
		for _, f := range part {
			if f.ID == id {
				return f, true
			}
		}
	}
	return Feature{}, false
}

// Clone returns a deep copy so cached lists are never shared with readers.
func (l *FeatureList) Clone() *FeatureList {
	if l == nil {
		return nil
	}
	return &FeatureList{
		Pending:    cloneFeatures(l.Pending),
		InProgress: cloneFeatures(l.InProgress),
		Done:       cloneFeatures(l.Done),
	}
}

func cloneFeatures(in []Feature) []Feature {
	if in == nil {
		return nil
	}
	out := make([]Feature, len(in))
	for i, f := range in {
		f.Steps = append([]string(nil), f.Steps...)
		out[i] = f
	}
	return out
}

// ProjectStats is the backend's aggregate progress for a project.
type ProjectStats struct {
	Passing    int     `json:"passing"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// ProjectSummary is a project entry as listed by the backend.
type ProjectSummary struct {
	Name    string       `json:"name"`
	Path    string       `json:"path"`
	HasSpec bool         `json:"has_spec"`
	Stats   ProjectStats `json:"stats"`
}

// ProjectDetail is the full project record.
type ProjectDetail struct {
	ProjectSummary
	PromptsDir string `json:"prompts_dir"`
}

// CreateProjectRequest is the body for creating a project.
type CreateProjectRequest struct {
	Name       string `json:"name"`
	Path       string `json:"path,omitempty"`
	SpecMethod string `json:"spec_method"` // "manual" | "claude"
}

// CreateFeatureRequest is the body for adding a feature.
type CreateFeatureRequest struct {
	Category    string   `json:"category"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
	Priority    *int     `json:"priority,omitempty"`
}

// AgentStatusResponse is the backend's view of the agent process.
type AgentStatusResponse struct {
	Status    AgentStatus `json:"status"`
	PID       *int        `json:"pid,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
}

// AgentActionResponse is returned by the lifecycle command endpoints.
type AgentActionResponse struct {
	Success bool        `json:"success"`
	Status  AgentStatus `json:"status"`
	Message string      `json:"message"`
}

var projectNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateProjectName enforces the backend's naming pattern.
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name is required")
	}
	if len(name) > 50 {
		return fmt.Errorf("project name %q is longer than 50 characters", name)
	}
	if !projectNamePattern.MatchString(name) {
		return fmt.Errorf("project name %q may only contain letters, digits, '-' and '_'", name)
	}
	return nil
}
