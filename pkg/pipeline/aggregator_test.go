package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/cognitriage/console/pkg/analysis"
	"github.com/cognitriage/console/pkg/session"
)

type fakeResultAPI struct {
	envelope analysis.ResultEnvelope
	err      error
	calls    int
}

func (f *fakeResultAPI) Result(ctx context.Context, jobID string) (analysis.ResultEnvelope, error) {
	f.calls++
	return f.envelope, f.err
}

type memCache struct {
	docs map[string]*analysis.ResultDocument
	sets int
}

func newMemCache() *memCache {
	return &memCache{docs: make(map[string]*analysis.ResultDocument)}
}

func (c *memCache) Get(ctx context.Context, jobID string) (*analysis.ResultDocument, bool) {
	doc, ok := c.docs[jobID]
	return doc, ok
}

func (c *memCache) Set(ctx context.Context, jobID string, doc *analysis.ResultDocument) {
	c.docs[jobID] = doc
	c.sets++
}

func activeStore(jobID string) *session.Store {
	store := session.NewStore()
	store.MergePartial(session.Partial{JobID: &jobID})
	return store
}

func TestAggregateMergesDocumentAndDerivedFields(t *testing.T) {
	doc := &analysis.ResultDocument{
		Triage:                   map[string]interface{}{"risk_tier": "HIGH", "confidence_score": 0.84},
		Note:                     map[string]interface{}{"imaging_findings": map[string]interface{}{"mta_score": 3.0}},
		Citations:                []map[string]interface{}{{"title": "MTA scoring"}},
		Trials:                   []map[string]interface{}{{"nct_id": "NCT00000001"}},
		TreatmentRecommendations: map[string]interface{}{"referrals": []interface{}{}},
	}
	api := &fakeResultAPI{envelope: analysis.ResultEnvelope{JobID: "job-1", Status: analysis.StatusCompleted, Result: doc}}
	store := activeStore("job-1")
	cache := newMemCache()

	if err := NewAggregator(api, store, cache).Aggregate(context.Background(), "job-1"); err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	a := store.Snapshot().Analysis
	if a.Result != doc {
		t.Fatal("raw document not stored")
	}
	if a.Triage["risk_tier"] != "HIGH" || a.Note == nil || len(a.Citations) != 1 || len(a.Trials) != 1 || a.TreatmentRecommendations == nil {
		t.Fatalf("derived fields incomplete: %+v", a)
	}
	if cache.sets != 1 {
		t.Fatal("fetched document not cached")
	}
}

func TestAggregateDiscardsSupersededJob(t *testing.T) {
	api := &fakeResultAPI{envelope: analysis.ResultEnvelope{
		JobID:  "job-old",
		Status: analysis.StatusCompleted,
		Result: &analysis.ResultDocument{Triage: map[string]interface{}{"risk_tier": "HIGH"}},
	}}
	store := activeStore("job-new")

	if err := NewAggregator(api, store, nil).Aggregate(context.Background(), "job-old"); err != nil {
		t.Fatalf("superseded aggregation must not error: %v", err)
	}

	a := store.Snapshot().Analysis
	if a.Result != nil || a.Triage != nil {
		t.Fatalf("superseded result landed in the store: %+v", a)
	}
}

func TestAggregateCacheHitSkipsFetch(t *testing.T) {
	api := &fakeResultAPI{err: errors.New("must not be called")}
	store := activeStore("job-1")
	cache := newMemCache()
	cache.docs["job-1"] = &analysis.ResultDocument{Triage: map[string]interface{}{"risk_tier": "LOW"}}

	if err := NewAggregator(api, store, cache).Aggregate(context.Background(), "job-1"); err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if api.calls != 0 {
		t.Fatal("cache hit must not reach the analysis service")
	}
	if store.Snapshot().Analysis.Triage["risk_tier"] != "LOW" {
		t.Fatal("cached document not merged")
	}
}

func TestAggregateFetchFailureLeavesStoreUntouched(t *testing.T) {
	api := &fakeResultAPI{err: errors.New("backend down")}
	store := activeStore("job-1")

	if err := NewAggregator(api, store, nil).Aggregate(context.Background(), "job-1"); err == nil {
		t.Fatal("expected fetch error")
	}
	if store.Snapshot().Analysis.Result != nil {
		t.Fatal("failed fetch must not write a result")
	}
}

func TestAggregateRejectsEmptyEnvelope(t *testing.T) {
	api := &fakeResultAPI{envelope: analysis.ResultEnvelope{JobID: "job-1", Status: analysis.StatusCompleted}}
	store := activeStore("job-1")

	if err := NewAggregator(api, store, nil).Aggregate(context.Background(), "job-1"); err == nil {
		t.Fatal("expected error for envelope without a result document")
	}
}
