package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grcops/compliance-core/internal/domain/monitoring"
	workflowsvc "github.com/grcops/compliance-core/internal/service/workflow"
)

// FakeOracle returns a scripted assessment, or an error when Err is set.
type FakeOracle struct {
	mu         sync.Mutex
	Assessment workflowsvc.Assessment
	Err        error
	Calls      int
	LastReq    workflowsvc.AssessmentRequest
}

func (o *FakeOracle) Assess(_ context.Context, req workflowsvc.AssessmentRequest) (*workflowsvc.Assessment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Calls++
	o.LastReq = req
	if o.Err != nil {
		return nil, o.Err
	}
	a := o.Assessment
	return &a, nil
}

// SentMessage records one notification the fake notifier delivered.
type SentMessage struct {
	Recipients []string
	Subject    string
	Body       string
}

// FakeNotifier records outbound notifications.
type FakeNotifier struct {
	mu   sync.Mutex
	Err  error
	Sent []SentMessage
}

func (n *FakeNotifier) Send(_ context.Context, recipients []string, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Sent = append(n.Sent, SentMessage{Recipients: recipients, Subject: subject, Body: body})
	return nil
}

// FakeControlStore serves scripted check results and evidence keyed by
// control id and records whatever the handlers append back.
type FakeControlStore struct {
	mu          sync.Mutex
	Checks      map[string][]workflowsvc.CheckResult
	Evidence    map[string][]workflowsvc.EvidenceRecord
	ChecksErr   error
	EvidenceErr error

	AppendedResults  map[string][]workflowsvc.CheckResult
	AppendedEvidence []workflowsvc.EvidenceRecord
}

func NewFakeControlStore() *FakeControlStore {
	return &FakeControlStore{
		Checks:          make(map[string][]workflowsvc.CheckResult),
		Evidence:        make(map[string][]workflowsvc.EvidenceRecord),
		AppendedResults: make(map[string][]workflowsvc.CheckResult),
	}
}

func (s *FakeControlStore) EvaluateChecks(_ context.Context, controlID, _ string) ([]workflowsvc.CheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ChecksErr != nil {
		return nil, s.ChecksErr
	}
	return s.Checks[controlID], nil
}

func (s *FakeControlStore) AppendTestResults(_ context.Context, controlID string, results []workflowsvc.CheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppendedResults[controlID] = append(s.AppendedResults[controlID], results...)
	return nil
}

func (s *FakeControlStore) CollectEvidence(_ context.Context, controlID string, _ []string) ([]workflowsvc.EvidenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EvidenceErr != nil {
		return nil, s.EvidenceErr
	}
	return s.Evidence[controlID], nil
}

func (s *FakeControlStore) AppendEvidence(_ context.Context, records []workflowsvc.EvidenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppendedEvidence = append(s.AppendedEvidence, records...)
	return nil
}

// FakeMetricStore returns a fixed snapshot regardless of the requested scope.
type FakeMetricStore struct {
	Snap *monitoring.MetricSnapshot
	Err  error
}

func (s *FakeMetricStore) Snapshot(_ context.Context, _ []string, _ uuid.UUID) (*monitoring.MetricSnapshot, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Snap, nil
}

// FakePublisher records alerts pushed to subscribers.
type FakePublisher struct {
	mu        sync.Mutex
	Published []*monitoring.ComplianceAlert
}

func (p *FakePublisher) PublishAlert(_ context.Context, alert *monitoring.ComplianceAlert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Published = append(p.Published, alert)
}

// Count returns how many alerts were published.
func (p *FakePublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Published)
}

// FakeDeduper remembers every fingerprint it has seen.
type FakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewFakeDeduper() *FakeDeduper {
	return &FakeDeduper{seen: make(map[string]bool)}
}

func (d *FakeDeduper) SeenFingerprint(_ context.Context, fingerprint string, _ time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[fingerprint] {
		return true
	}
	d.seen[fingerprint] = true
	return false
}
