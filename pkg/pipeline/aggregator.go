package pipeline

import (
	"context"
	"fmt"

	"github.com/cognitriage/console/pkg/analysis"
	"github.com/cognitriage/console/pkg/cache"
	"github.com/cognitriage/console/pkg/common/logger"
	"github.com/cognitriage/console/pkg/observability/metrics"
	"github.com/cognitriage/console/pkg/session"
)

// ResultAPI is the slice of the analysis service the aggregator needs.
type ResultAPI interface {
	Result(ctx context.Context, jobID string) (analysis.ResultEnvelope, error)
}

// Aggregator fetches the full result document once a job completes and
// publishes it, decomposed, into the session store as one atomic merge.
type Aggregator struct {
	api   ResultAPI
	store *session.Store
	cache cache.ResultCache
}

func NewAggregator(api ResultAPI, store *session.Store, resultCache cache.ResultCache) *Aggregator {
	if resultCache == nil {
		resultCache = cache.NewNoop()
	}
	return &Aggregator{api: api, store: store, cache: resultCache}
}

// Aggregate resolves the result document for jobID and merges the raw
// document plus every derived field in a single store update, so consumers
// never observe the result without its decomposition. A fetch failure leaves
// the result unset; there is no retry.
func (a *Aggregator) Aggregate(ctx context.Context, jobID string) error {
	doc, hit := a.cache.Get(ctx, jobID)
	if !hit {
		envelope, err := a.api.Result(ctx, jobID)
		if err != nil {
			return fmt.Errorf("result fetch failed: %w", err)
		}
		if envelope.Result == nil {
			return fmt.Errorf("job %s reported %s but carried no result document", jobID, envelope.Status)
		}
		doc = envelope.Result
		a.cache.Set(ctx, jobID, doc)
	}

	applied := a.store.MergeForJob(jobID, session.Partial{
		Result:                   doc,
		Triage:                   doc.Triage,
		Note:                     doc.Note,
		Citations:                doc.Citations,
		Trials:                   doc.Trials,
		TreatmentRecommendations: doc.TreatmentRecommendations,
	})
	if !applied {
		logger.Log.WithField("job_id", jobID).Debug("Result discarded, job superseded")
		return nil
	}

	metrics.IncAggregation()
	logger.Log.WithField("job_id", jobID).Info("Result aggregated into session")
	return nil
}
