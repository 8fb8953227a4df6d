package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/grcops/compliance-core/internal/domain/errors"
)

// StepKind enumerates the closed set of step behaviors. Each kind carries its
// own parameter struct so invalid kind/parameter combinations cannot be
// constructed.
type StepKind string

const (
	StepAutomatedTest      StepKind = "automated_test"
	StepEvidenceCollection StepKind = "evidence_collection"
	StepAIAssessment       StepKind = "ai_assessment"
	StepHumanReview        StepKind = "human_review"
	StepApproval           StepKind = "approval"
	StepNotification       StepKind = "notification"
)

func (k StepKind) Valid() bool {
	switch k {
	case StepAutomatedTest, StepEvidenceCollection, StepAIAssessment,
		StepHumanReview, StepApproval, StepNotification:
		return true
	}
	return false
}

// StepParams is the tagged-variant parameter payload for a step.
type StepParams interface {
	Kind() StepKind
	validate() error
}

// AutomatedTestParams runs a control's automated test suite.
type AutomatedTestParams struct {
	ControlID string `json:"control_id"`
	TestSuite string `json:"test_suite,omitempty"`
}

func (p AutomatedTestParams) Kind() StepKind { return StepAutomatedTest }
func (p AutomatedTestParams) validate() error {
	if p.ControlID == "" {
		return errors.NewDefinitionError("MISSING_CONTROL", "automated_test step requires a control id")
	}
	return nil
}

// EvidenceCollectionParams pulls evidence records for a control from the
// configured sources.
type EvidenceCollectionParams struct {
	ControlID string   `json:"control_id"`
	Sources   []string `json:"sources"`
}

func (p EvidenceCollectionParams) Kind() StepKind { return StepEvidenceCollection }
func (p EvidenceCollectionParams) validate() error {
	if p.ControlID == "" {
		return errors.NewDefinitionError("MISSING_CONTROL", "evidence_collection step requires a control id")
	}
	if len(p.Sources) == 0 {
		return errors.NewDefinitionError("MISSING_SOURCES", "evidence_collection step requires at least one source")
	}
	return nil
}

// AIAssessmentParams asks the assessment oracle to evaluate a control or risk.
type AIAssessmentParams struct {
	TargetType string `json:"target_type"` // control | risk
	TargetID   string `json:"target_id"`
	Focus      string `json:"focus,omitempty"`
}

func (p AIAssessmentParams) Kind() StepKind { return StepAIAssessment }
func (p AIAssessmentParams) validate() error {
	if p.TargetType != "control" && p.TargetType != "risk" {
		return errors.NewDefinitionError("INVALID_TARGET", fmt.Sprintf("ai_assessment target type must be control or risk, got %q", p.TargetType))
	}
	if p.TargetID == "" {
		return errors.NewDefinitionError("MISSING_TARGET", "ai_assessment step requires a target id")
	}
	return nil
}

// HumanReviewParams routes accumulated results to named reviewers and
// suspends the execution until one of them decides.
type HumanReviewParams struct {
	Reviewers    []string `json:"reviewers"`
	Instructions string   `json:"instructions,omitempty"`
}

func (p HumanReviewParams) Kind() StepKind { return StepHumanReview }
func (p HumanReviewParams) validate() error {
	if len(p.Reviewers) == 0 {
		return errors.NewDefinitionError("MISSING_REVIEWERS", "human_review step requires at least one reviewer")
	}
	return nil
}

// ApprovalParams is an explicit human gate.
type ApprovalParams struct {
	Roles []string `json:"roles"`
}

func (p ApprovalParams) Kind() StepKind { return StepApproval }
func (p ApprovalParams) validate() error {
	if len(p.Roles) == 0 {
		return errors.NewDefinitionError("MISSING_ROLES", "approval step requires at least one role")
	}
	return nil
}

// NotificationParams sends a message over the notification channel.
// Delivery failures are logged, never retried.
type NotificationParams struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body,omitempty"`
}

func (p NotificationParams) Kind() StepKind { return StepNotification }
func (p NotificationParams) validate() error {
	if len(p.Recipients) == 0 {
		return errors.NewDefinitionError("MISSING_RECIPIENTS", "notification step requires at least one recipient")
	}
	if p.Subject == "" {
		return errors.NewDefinitionError("MISSING_SUBJECT", "notification step requires a subject")
	}
	return nil
}

// WorkflowStep is one unit of work inside a definition. A step runs only
// after every id in DependsOn has a success result in the same execution.
type WorkflowStep struct {
	ID        string        `json:"id"`
	Params    StepParams    `json:"-"`
	DependsOn []string      `json:"depends_on,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	Retry     *RetryPolicy  `json:"retry,omitempty"`
}

// Kind returns the step's behavior kind.
func (s WorkflowStep) Kind() StepKind {
	if s.Params == nil {
		return ""
	}
	return s.Params.Kind()
}

func (s WorkflowStep) validate() error {
	if s.Params == nil {
		return errors.NewDefinitionError("MISSING_PARAMS", fmt.Sprintf("step %q has no parameters", s.ID))
	}
	if !s.Params.Kind().Valid() {
		return errors.NewDefinitionError("UNKNOWN_STEP_KIND", fmt.Sprintf("step %q has unknown kind %q", s.ID, s.Params.Kind()))
	}
	if err := s.Params.validate(); err != nil {
		return err
	}
	if s.Retry != nil {
		if s.Retry.MaxRetries < 0 {
			return errors.NewDefinitionError("INVALID_RETRY", fmt.Sprintf("step %q has negative max retries", s.ID))
		}
		if s.Retry.BackoffMultiplier < 1 {
			return errors.NewDefinitionError("INVALID_RETRY", fmt.Sprintf("step %q has backoff multiplier below 1", s.ID))
		}
	}
	return nil
}

// stepEnvelope is the wire shape of a step. Parameters are parsed once here,
// at the serialization boundary, into the typed variant for the declared kind.
type stepEnvelope struct {
	ID        string          `json:"id"`
	Kind      StepKind        `json:"kind"`
	Params    json.RawMessage `json:"params"`
	DependsOn []string        `json:"depends_on,omitempty"`
	TimeoutMS int64           `json:"timeout_ms,omitempty"`
	Retry     *RetryPolicy    `json:"retry,omitempty"`
}

// MarshalJSON encodes the step with an explicit kind tag.
func (s WorkflowStep) MarshalJSON() ([]byte, error) {
	params, err := json.Marshal(s.Params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stepEnvelope{
		ID:        s.ID,
		Kind:      s.Kind(),
		Params:    params,
		DependsOn: s.DependsOn,
		TimeoutMS: s.Timeout.Milliseconds(),
		Retry:     s.Retry,
	})
}

// UnmarshalJSON decodes the kind tag and parses the parameter payload into
// the matching variant. An unknown kind is rejected.
func (s *WorkflowStep) UnmarshalJSON(data []byte) error {
	var env stepEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	params, err := parseStepParams(env.Kind, env.Params)
	if err != nil {
		return err
	}

	s.ID = env.ID
	s.Params = params
	s.DependsOn = env.DependsOn
	s.Timeout = time.Duration(env.TimeoutMS) * time.Millisecond
	s.Retry = env.Retry
	return nil
}

func parseStepParams(kind StepKind, raw json.RawMessage) (StepParams, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	switch kind {
	case StepAutomatedTest:
		var p AutomatedTestParams
		return p, json.Unmarshal(raw, &p)
	case StepEvidenceCollection:
		var p EvidenceCollectionParams
		return p, json.Unmarshal(raw, &p)
	case StepAIAssessment:
		var p AIAssessmentParams
		return p, json.Unmarshal(raw, &p)
	case StepHumanReview:
		var p HumanReviewParams
		return p, json.Unmarshal(raw, &p)
	case StepApproval:
		var p ApprovalParams
		return p, json.Unmarshal(raw, &p)
	case StepNotification:
		var p NotificationParams
		return p, json.Unmarshal(raw, &p)
	default:
		return nil, errors.NewDefinitionError("UNKNOWN_STEP_KIND", fmt.Sprintf("unknown step kind %q", kind))
	}
}

var (
	_ StepParams = AutomatedTestParams{}
	_ StepParams = EvidenceCollectionParams{}
	_ StepParams = AIAssessmentParams{}
	_ StepParams = HumanReviewParams{}
	_ StepParams = ApprovalParams{}
	_ StepParams = NotificationParams{}
)
