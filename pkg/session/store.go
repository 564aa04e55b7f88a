package session

import (
	"sync"
	"time"

	"github.com/cognitriage/console/pkg/analysis"
)

// Patient sex codes as entered on the intake screen.
const (
	SexFemale  = "F"
	SexMale    = "M"
	SexUnknown = "U"
)

// FileRef is a file selected on the upload screen, held until submission.
type FileRef struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Content []byte `json:"-"`
}

// PatientData holds user-entered intake fields. Age and MocaScore are nil
// until the user types something.
type PatientData struct {
	Age       *int      `json:"age,omitempty"`
	MocaScore *int      `json:"moca_score,omitempty"`
	Sex       string    `json:"sex"`
	Files     []FileRef `json:"files"`
}

// AnalysisResult is the aggregate view-model every screen reads. The derived
// fields (Triage through TreatmentRecommendations) are always either all
// unset or all taken from the same Result snapshot.
type AnalysisResult struct {
	JobID                    string                   `json:"job_id,omitempty"`
	Status                   *analysis.JobStatus      `json:"status,omitempty"`
	Result                   *analysis.ResultDocument `json:"result,omitempty"`
	Triage                   map[string]interface{}   `json:"triage,omitempty"`
	Note                     map[string]interface{}   `json:"note,omitempty"`
	Citations                []map[string]interface{} `json:"citations,omitempty"`
	Trials                   []map[string]interface{} `json:"trials,omitempty"`
	TreatmentRecommendations map[string]interface{}   `json:"treatment_recommendations,omitempty"`
}

// Partial is a merge update. Nil fields are left untouched; non-nil fields
// replace the stored value. Wholesale clearing goes through ClearAnalysis or
// ResetAll, never through a merge.
type Partial struct {
	JobID                    *string
	Status                   *analysis.JobStatus
	Result                   *analysis.ResultDocument
	Triage                   map[string]interface{}
	Note                     map[string]interface{}
	Citations                []map[string]interface{}
	Trials                   []map[string]interface{}
	TreatmentRecommendations map[string]interface{}
}

// State is a point-in-time snapshot handed to consumers.
type State struct {
	Patient  PatientData    `json:"patient"`
	Analysis AnalysisResult `json:"analysis"`
	Version  uint64         `json:"version"`
}

// Store is the session-scoped shared state. One instance per browser session;
// every pipeline stage publishes through it and every screen reads from it.
type Store struct {
	mu         sync.Mutex
	patient    PatientData
	analysis   AnalysisResult
	version    uint64
	lastActive time.Time
}

func NewStore() *Store {
	return &Store{
		patient:    PatientData{Sex: SexUnknown},
		lastActive: time.Now(),
	}
}

// SetIntake updates the user-entered intake fields. Nil pointers leave the
// corresponding field untouched; sex is only updated when non-empty.
func (s *Store) SetIntake(age, moca *int, sex string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if age != nil {
		s.patient.Age = age
	}
	if moca != nil {
		s.patient.MocaScore = moca
	}
	if sex != "" {
		s.patient.Sex = sex
	}
	s.bump()
}

// SetFiles replaces the selected file list.
func (s *Store) SetFiles(files []FileRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patient.Files = files
	s.bump()
}

// CanSubmit reports whether the submission guard passes: at least one file,
// MoCA (when set) within [0,30], age (when set) positive. A false value
// disables submission; it is not an error.
func (s *Store) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.patient.Files) == 0 {
		return false
	}
	if s.patient.MocaScore != nil && (*s.patient.MocaScore < 0 || *s.patient.MocaScore > 30) {
		return false
	}
	if s.patient.Age != nil && *s.patient.Age <= 0 {
		return false
	}
	return true
}

// MergePartial applies a partial update atomically: only the supplied fields
// are replaced, everything else is left intact.
func (s *Store) MergePartial(update Partial) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(update)
}

// MergeForJob applies a partial update only while jobID is still the active
// job. Late responses from a superseded poll cycle are discarded here; the
// caller learns about it from the return value.
func (s *Store) MergeForJob(jobID string, update Partial) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysis.JobID != jobID {
		return false
	}
	s.apply(update)
	return true
}

// SetStatusForJob records a polled status. The write is dropped when the job
// has been superseded or when the status would move backwards in the
// queued < running < terminal order.
func (s *Store) SetStatusForJob(jobID string, status analysis.JobStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysis.JobID != jobID {
		return false
	}
	if s.analysis.Status != nil && analysis.StatusRank(status.Status) < analysis.StatusRank(s.analysis.Status.Status) {
		return false
	}
	s.analysis.Status = &status
	s.bump()
	return true
}

// ClearAnalysis wipes the job identifier, status, result, and every derived
// field. Run before a new submission so an in-flight poll for the previous
// job can no longer land.
func (s *Store) ClearAnalysis() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysis = AnalysisResult{}
	s.bump()
}

// ResetAll restores both patient data and analysis state to their initial
// empty values.
func (s *Store) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patient = PatientData{Sex: SexUnknown}
	s.analysis = AnalysisResult{}
	s.bump()
}

// Snapshot returns the current state. Maps inside the snapshot are shared
// with the store and must be treated as read-only.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Patient: s.patient, Analysis: s.analysis, Version: s.version}
}

// Touch marks the session as recently used.
func (s *Store) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

func (s *Store) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Store) apply(update Partial) {
	if update.JobID != nil {
		s.analysis.JobID = *update.JobID
	}
	if update.Status != nil {
		s.analysis.Status = update.Status
	}
	if update.Result != nil {
		s.analysis.Result = update.Result
	}
	if update.Triage != nil {
		s.analysis.Triage = update.Triage
	}
	if update.Note != nil {
		s.analysis.Note = update.Note
	}
	if update.Citations != nil {
		s.analysis.Citations = update.Citations
	}
	if update.Trials != nil {
		s.analysis.Trials = update.Trials
	}
	if update.TreatmentRecommendations != nil {
		s.analysis.TreatmentRecommendations = update.TreatmentRecommendations
	}
	s.bump()
}

func (s *Store) bump() {
	s.version++
	s.lastActive = time.Now()
}
