// Package workflow provides the workflow template and run execution engine.
package workflow

import (
	"fmt"
	"sort"
	"time"
)

// StepType is the closed set of step kinds a template may contain.
//
// The engine treats a step type as an opaque label. The only behaviour it
// derives from the type is whether a step may be rejected (approval class).
// Executing the step's side effect is the host application's job.
type StepType string

// Known step types.
const (
	StepTypeForm         StepType = "form"
	StepTypeApproval     StepType = "approval"
	StepTypeReview       StepType = "review"
	StepTypeSignoff      StepType = "signoff"
	StepTypeTask         StepType = "task"
	StepTypeNotification StepType = "notification"
	StepTypeDocument     StepType = "document"
	StepTypeMeeting      StepType = "meeting"
	StepTypeChecklist    StepType = "checklist"
)

var stepTypes = map[StepType]bool{
	StepTypeForm:         false,
	StepTypeApproval:     true,
	StepTypeReview:       true,
	StepTypeSignoff:      true,
	StepTypeTask:         false,
	StepTypeNotification: false,
	StepTypeDocument:     false,
	StepTypeMeeting:      false,
	StepTypeChecklist:    false,
}

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	_, ok := stepTypes[t]
	return ok
}

// IsApproval reports whether steps of this type may end in rejection.
func (t StepType) IsApproval() bool {
	return stepTypes[t]
}

// WorkflowType categorises templates. Run policies are configured per type.
type WorkflowType string

// Known workflow types.
const (
	WorkflowTypeOnboarding  WorkflowType = "onboarding"
	WorkflowTypeOffboarding WorkflowType = "offboarding"
	WorkflowTypeCadence     WorkflowType = "cadence"
	WorkflowTypeReview      WorkflowType = "review"
	WorkflowTypeRecruitment WorkflowType = "recruitment"
	WorkflowTypeLaunch      WorkflowType = "launch"
	WorkflowTypeMeeting     WorkflowType = "meeting"
	WorkflowTypeCustom      WorkflowType = "custom"
)

// RunStatus is the aggregate state of a WorkflowRun.
type RunStatus string

// Run statuses. Everything except RunRunning is terminal.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the run can no longer change.
func (s RunStatus) Terminal() bool {
	return s != RunRunning
}

// StepStatus is the lifecycle state of one StepRun.
type StepStatus string

// Step statuses.
const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepRejected   StepStatus = "rejected"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

// Terminal reports whether the step has no outgoing transitions.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepRejected, StepSkipped, StepFailed:
		return true
	}
	return false
}

// FieldName names an OrgWorkflow field that local edits may touch.
type FieldName string

// Editable fields.
const (
	FieldWorkflowName FieldName = "name"
	FieldDescription  FieldName = "description"
	FieldSteps        FieldName = "steps"
	FieldWorkflowType FieldName = "workflow_type"
)

// StepSpec is one step of a template. StepRuns carry a frozen copy.
type StepSpec struct {
	Type         StepType `json:"type" yaml:"type"`
	Title        string   `json:"title" yaml:"title"`
	Instructions string   `json:"instructions,omitempty" yaml:"instructions"`
	SortOrder    int      `json:"sortOrder" yaml:"sort_order"`
}

// PackTemplate is an immutable template blueprint owned by the pack catalog.
type PackTemplate struct {
	PackKey        string
	TemplateKey    string
	WorkflowType   WorkflowType
	Name           string
	Description    string
	Locked         bool
	EditableFields []FieldName
	Steps          []StepSpec
}

// ID is the template's stable identity: packKey/workflowType/templateKey.
func (p PackTemplate) ID() string {
	return fmt.Sprintf("%s/%s/%s", p.PackKey, p.WorkflowType, p.TemplateKey)
}

// OrgWorkflow is an organization's customizable copy of a template.
type OrgWorkflow struct {
	ID               string
	OrgID            string
	SourcePackKey    string
	SourceTemplateID string // empty when not cloned from a pack
	WorkflowType     WorkflowType
	Name             string
	Description      string
	IsActive         bool
	IsLocked         bool
	EditableFields   []FieldName
	Steps            []StepSpec
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FromPack reports whether the workflow was seeded from a pack template.
func (w OrgWorkflow) FromPack() bool {
	return w.SourceTemplateID != ""
}

// Editable reports whether field is in the workflow's allow-list.
func (w OrgWorkflow) Editable(field FieldName) bool {
	for _, f := range w.EditableFields {
		if f == field {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (w OrgWorkflow) Clone() OrgWorkflow {
	w.EditableFields = append([]FieldName(nil), w.EditableFields...)
	w.Steps = append([]StepSpec(nil), w.Steps...)
	return w
}

// OutputLink is an opaque reference to a side effect produced by a step.
type OutputLink struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// WorkflowRun is one execution of an OrgWorkflow.
type WorkflowRun struct {
	ID              string
	OrgID           string
	OrgWorkflowID   string
	WorkflowType    WorkflowType
	WorkflowName    string
	Status          RunStatus
	Policy          RunPolicy
	InitiatedBy     string
	TargetEntityRef string
	CancelReason    string
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// StepRun is the execution state of one step inside a run.
type StepRun struct {
	ID          string
	RunID       string
	OrgID       string
	Spec        StepSpec
	Status      StepStatus
	AssignedTo  string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Notes       string
	OutputLinks []OutputLink
	Version     int
}

// Clone returns a deep copy.
func (s StepRun) Clone() StepRun {
	s.OutputLinks = append([]OutputLink(nil), s.OutputLinks...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

// RunView is a run together with its steps in sortOrder.
type RunView struct {
	Run   WorkflowRun
	Steps []StepRun
}

// Step returns the step with the given sortOrder.
func (v RunView) Step(sortOrder int) (StepRun, bool) {
	for _, s := range v.Steps {
		if s.Spec.SortOrder == sortOrder {
			return s, true
		}
	}
	return StepRun{}, false
}

// NormalizeSteps validates a step list and returns a copy sorted by
// sortOrder and renumbered contiguously from 1.
//
// Duplicate sort orders, unknown step types and empty titles are rejected.
func NormalizeSteps(steps []StepSpec) ([]StepSpec, error) {
	out := append([]StepSpec(nil), steps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	for i, s := range out {
		if !s.Type.Valid() {
			return nil, fmt.Errorf("step %q: unknown step type %q", s.Title, s.Type)
		}
		if s.Title == "" {
			return nil, fmt.Errorf("step %d: title is required", s.SortOrder)
		}
		if i > 0 && out[i-1].SortOrder == s.SortOrder {
			return nil, fmt.Errorf("duplicate sort order %d", s.SortOrder)
		}
	}
	for i := range out {
		out[i].SortOrder = i + 1
	}
	return out, nil
}
