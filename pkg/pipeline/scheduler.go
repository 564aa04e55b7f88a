package pipeline

import (
	"context"
	"time"

	"github.com/cognitriage/console/pkg/analysis"
	"github.com/cognitriage/console/pkg/common/logger"
	"github.com/cognitriage/console/pkg/events"
	"github.com/cognitriage/console/pkg/observability/metrics"
)

// startPolling launches the poll loop for jobID, cancelling any previous
// loop first so only one timer is ever live per session.
func (p *Pipeline) startPolling(jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	previous := p.cancel
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	if previous != nil {
		previous()
	}

	go p.pollLoop(ctx, jobID, done)
}

// stopPolling cancels the active poll loop, if any, and waits for it to
// drain so no tick can interleave with the caller's next store write.
func (p *Pipeline) stopPolling() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// pollLoop checks the job status once immediately, then on every interval
// tick until a terminal status, the failure cap, or cancellation.
func (p *Pipeline) pollLoop(ctx context.Context, jobID string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	if p.checkOnce(ctx, jobID, &failures) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.checkOnce(ctx, jobID, &failures) {
				return
			}
		}
	}
}

// checkOnce performs one status poll. Returns true when polling for this job
// is over. Status writes are monotonic per job and dropped once the job is
// superseded; the aggregator runs at most once, on the first observed
// completed status.
func (p *Pipeline) checkOnce(ctx context.Context, jobID string, failures *int) bool {
	metrics.IncPoll()

	status, err := p.api.Status(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		metrics.IncPollFailure()
		*failures++
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"job_id":   jobID,
			"failures": *failures,
		}).Warn("Status poll failed")

		if p.failureLimit > 0 && *failures >= p.failureLimit {
			logger.Log.WithField("job_id", jobID).Error("Poll failure limit reached, marking job failed")
			p.store.SetStatusForJob(jobID, analysis.JobStatus{JobID: jobID, Status: analysis.StatusFailed})
			p.events.Publish(ctx, events.Event{
				Type:      events.TypeJobFailed,
				SessionID: p.sessionID,
				JobID:     jobID,
				Data:      map[string]interface{}{"reason": "poll failure limit reached"},
			})
			return true
		}
		return false
	}
	*failures = 0

	if p.store.SetStatusForJob(jobID, status) {
		p.events.Publish(ctx, events.Event{
			Type:      events.TypeJobStatus,
			SessionID: p.sessionID,
			JobID:     jobID,
			Data:      map[string]interface{}{"status": status.Status, "progress": status.Progress},
		})
	} else if ctx.Err() != nil {
		return true
	}

	switch status.Status {
	case analysis.StatusCompleted:
		if err := p.aggregator.Aggregate(ctx, jobID); err != nil {
			logger.Log.WithError(err).WithField("job_id", jobID).Error("Result aggregation failed")
		}
		p.events.Publish(ctx, events.Event{
			Type:      events.TypeJobCompleted,
			SessionID: p.sessionID,
			JobID:     jobID,
		})
		return true
	case analysis.StatusFailed:
		p.events.Publish(ctx, events.Event{
			Type:      events.TypeJobFailed,
			SessionID: p.sessionID,
			JobID:     jobID,
		})
		return true
	}
	return false
}
