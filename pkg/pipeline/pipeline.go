package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cognitriage/console/pkg/analysis"
	"github.com/cognitriage/console/pkg/cache"
	"github.com/cognitriage/console/pkg/common/logger"
	"github.com/cognitriage/console/pkg/demo"
	"github.com/cognitriage/console/pkg/events"
	"github.com/cognitriage/console/pkg/observability/metrics"
	"github.com/cognitriage/console/pkg/session"
)

// Intake defaults applied when the user left the field empty.
const (
	DefaultMocaTotal = 24
	DefaultAge       = 70
)

// ErrSubmissionBlocked means the intake guard failed: no file selected, or a
// numeric field out of range. It disables the action, nothing more.
var ErrSubmissionBlocked = errors.New("submission blocked by intake guard")

// ErrNoResult means a trials query was attempted before a completed result
// landed in the session.
var ErrNoResult = errors.New("no completed result in session")

// AnalysisAPI is the slice of the remote analysis service the pipeline
// consumes. *analysis.Client satisfies it.
type AnalysisAPI interface {
	Submit(ctx context.Context, files []analysis.Upload, moca analysis.MocaScore, meta analysis.Demographics) (string, error)
	SubmitDemoHealthy(ctx context.Context) (string, error)
	SubmitDemoPathology(ctx context.Context) (string, error)
	Status(ctx context.Context, jobID string) (analysis.JobStatus, error)
	Result(ctx context.Context, jobID string) (analysis.ResultEnvelope, error)
	MatchTrials(ctx context.Context, query analysis.TrialsQuery) ([]map[string]interface{}, error)
}

// Options tunes a session pipeline. Zero values fall back to sane defaults.
type Options struct {
	SessionID string
	// Interval between status polls. Defaults to 2 seconds.
	Interval time.Duration
	// Consecutive transport failures tolerated while polling before the job
	// is marked failed locally. Zero polls forever.
	FailureLimit int
	Cache        cache.ResultCache
	Events       events.Publisher
}

// Pipeline drives one session's job lifecycle: submission, status polling,
// and result aggregation into the session store. At most one poll loop is
// active at a time; submitting a new job cancels the previous loop first.
type Pipeline struct {
	api        AnalysisAPI
	store      *session.Store
	aggregator *Aggregator
	events     events.Publisher
	sessionID  string

	interval     time.Duration
	failureLimit int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(api AnalysisAPI, store *session.Store, opts Options) *Pipeline {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNoop()
	}
	if opts.Events == nil {
		opts.Events = events.NewNoop()
	}
	return &Pipeline{
		api:          api,
		store:        store,
		aggregator:   NewAggregator(api, store, opts.Cache),
		events:       opts.Events,
		sessionID:    opts.SessionID,
		interval:     opts.Interval,
		failureLimit: opts.FailureLimit,
	}
}

// Submit validates the intake guard, clears any previous job from the store,
// submits the selected files, and starts polling the returned job.
func (p *Pipeline) Submit(ctx context.Context) (string, error) {
	if !p.store.CanSubmit() {
		return "", ErrSubmissionBlocked
	}

	snapshot := p.store.Snapshot()
	files := make([]analysis.Upload, 0, len(snapshot.Patient.Files))
	for _, file := range snapshot.Patient.Files {
		files = append(files, analysis.Upload{Filename: file.Name, Content: file.Content})
	}

	moca := analysis.MocaScore{Total: DefaultMocaTotal}
	if snapshot.Patient.MocaScore != nil {
		moca.Total = *snapshot.Patient.MocaScore
	}
	meta := analysis.Demographics{Age: DefaultAge, Sex: session.SexUnknown}
	if snapshot.Patient.Age != nil {
		meta.Age = *snapshot.Patient.Age
	}
	if snapshot.Patient.Sex != "" {
		meta.Sex = snapshot.Patient.Sex
	}

	return p.startJob(ctx, func(ctx context.Context) (string, error) {
		return p.api.Submit(ctx, files, moca, meta)
	})
}

// SubmitDemoHealthy bypasses file validation, pre-seeds the healthy demo
// intake, and triggers the fixed-payload demo pipeline.
func (p *Pipeline) SubmitDemoHealthy(ctx context.Context, profile demo.Profile) (string, error) {
	p.seedDemoIntake(profile)
	return p.startJob(ctx, p.api.SubmitDemoHealthy)
}

// SubmitDemoPathology is the pathology counterpart of SubmitDemoHealthy.
func (p *Pipeline) SubmitDemoPathology(ctx context.Context, profile demo.Profile) (string, error) {
	p.seedDemoIntake(profile)
	return p.startJob(ctx, p.api.SubmitDemoPathology)
}

func (p *Pipeline) seedDemoIntake(profile demo.Profile) {
	age := profile.Age
	moca := profile.MocaTotal
	p.store.SetIntake(&age, &moca, profile.Sex)
}

// startJob cancels any active poll loop, clears the store so a stale poll can
// no longer land, then creates the job and begins polling it. On failure the
// store stays cleared and no job identifier is written.
func (p *Pipeline) startJob(ctx context.Context, create func(context.Context) (string, error)) (string, error) {
	p.stopPolling()
	p.store.ClearAnalysis()

	jobID, err := create(ctx)
	if err != nil {
		metrics.IncSubmissionFailure()
		logger.Log.WithError(err).Error("Job submission failed")
		return "", fmt.Errorf("submission failed: %w", err)
	}

	p.store.MergePartial(session.Partial{JobID: &jobID})
	metrics.IncSubmission()
	p.events.Publish(ctx, events.Event{
		Type:      events.TypeJobSubmitted,
		SessionID: p.sessionID,
		JobID:     jobID,
	})
	logger.Log.WithFields(map[string]interface{}{
		"job_id":     jobID,
		"session_id": p.sessionID,
	}).Info("Analysis job submitted")

	p.startPolling(jobID)
	return jobID, nil
}

// MatchTrials re-queries the trial-matching endpoint with the profile built
// from the session's current result and intake data. The response goes back
// to the caller; it is not merged over the decomposed result fields.
func (p *Pipeline) MatchTrials(ctx context.Context) ([]map[string]interface{}, error) {
	snapshot := p.store.Snapshot()
	if snapshot.Analysis.Triage == nil {
		return nil, ErrNoResult
	}

	query := analysis.TrialsQuery{
		MocaScore: DefaultMocaTotal,
		Age:       DefaultAge,
		Sex:       session.SexUnknown,
	}
	if tier, ok := snapshot.Analysis.Triage["risk_tier"].(string); ok {
		query.RiskTier = tier
	}
	if snapshot.Analysis.Note != nil {
		if findings, ok := snapshot.Analysis.Note["imaging_findings"].(map[string]interface{}); ok {
			query.ImagingFindings = findings
		}
	}
	if snapshot.Patient.MocaScore != nil {
		query.MocaScore = *snapshot.Patient.MocaScore
	}
	if snapshot.Patient.Age != nil {
		query.Age = *snapshot.Patient.Age
	}
	if snapshot.Patient.Sex != "" {
		query.Sex = snapshot.Patient.Sex
	}

	return p.api.MatchTrials(ctx, query)
}

// Reset cancels any active poll loop and restores the session to its initial
// empty state.
func (p *Pipeline) Reset(ctx context.Context) {
	p.stopPolling()
	p.store.ResetAll()
	p.events.Publish(ctx, events.Event{
		Type:      events.TypeSessionReset,
		SessionID: p.sessionID,
	})
}

// Close stops the poll loop. Called on session teardown; every exit path
// releases the timer.
func (p *Pipeline) Close() {
	p.stopPolling()
}
