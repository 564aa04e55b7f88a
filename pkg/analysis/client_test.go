package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSubmitSendsMultipartForm(t *testing.T) {
	var gotMoca MocaScore
	var gotMeta Demographics
	var gotFilename string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/submit" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
			return
		}
		if err := json.Unmarshal([]byte(r.FormValue("moca")), &gotMoca); err != nil {
			t.Errorf("invalid moca field: %v", err)
		}
		if err := json.Unmarshal([]byte(r.FormValue("meta")), &gotMeta); err != nil {
			t.Errorf("invalid meta field: %v", err)
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 1 {
			t.Errorf("expected one file, got %d", len(files))
			return
		}
		gotFilename = files[0].Filename

		writeTestJSON(w, SubmitResponse{JobID: "job-123"})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	jobID, err := client.Submit(context.Background(),
		[]Upload{{Filename: "scan.nii.gz", Content: []byte("nifti-bytes")}},
		MocaScore{Total: 24},
		Demographics{Age: 72, Sex: "M"},
	)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if jobID != "job-123" {
		t.Fatalf("unexpected job id %q", jobID)
	}
	if gotMoca.Total != 24 || gotMeta.Age != 72 || gotMeta.Sex != "M" {
		t.Fatalf("payload mismatch: moca=%+v meta=%+v", gotMoca, gotMeta)
	}
	if gotFilename != "scan.nii.gz" {
		t.Fatalf("unexpected filename %q", gotFilename)
	}
}

func TestSubmitRejectsEmptyFileList(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", time.Second)
	if _, err := client.Submit(context.Background(), nil, MocaScore{Total: 24}, Demographics{Age: 70, Sex: "U"}); err == nil {
		t.Fatal("expected error for empty file list")
	}
}

func TestStatusAndResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status/job-7":
			writeTestJSON(w, map[string]interface{}{
				"job_id":   "job-7",
				"status":   "running",
				"progress": 45,
				"agents":   map[string]interface{}{"Imaging_Feature_Agent": map[string]string{"status": "running"}},
			})
		case "/api/result/job-7":
			writeTestJSON(w, map[string]interface{}{
				"job_id": "job-7",
				"status": "completed",
				"result": map[string]interface{}{
					"triage": map[string]interface{}{"risk_tier": "MODERATE"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)

	status, err := client.Status(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Status != StatusRunning || status.Progress != 45 {
		t.Fatalf("unexpected status %+v", status)
	}
	if _, ok := status.Agents["Imaging_Feature_Agent"]; !ok {
		t.Fatal("expected agents map to carry through")
	}

	envelope, err := client.Result(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if envelope.Result == nil || envelope.Result.Triage["risk_tier"] != "MODERATE" {
		t.Fatalf("unexpected result envelope %+v", envelope)
	}
}

func TestNonSuccessStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "job not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if _, err := client.Status(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestMatchTrials(t *testing.T) {
	var gotQuery TrialsQuery
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/trials" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotQuery); err != nil {
			t.Errorf("invalid trials query: %v", err)
		}
		writeTestJSON(w, TrialsResponse{Trials: []map[string]interface{}{{"nct_id": "NCT12345678"}}})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	trials, err := client.MatchTrials(context.Background(), TrialsQuery{
		RiskTier:  "HIGH",
		MocaScore: 19,
		Age:       78,
		Sex:       "F",
	})
	if err != nil {
		t.Fatalf("trials query failed: %v", err)
	}
	if len(trials) != 1 || trials[0]["nct_id"] != "NCT12345678" {
		t.Fatalf("unexpected trials %v", trials)
	}
	if gotQuery.RiskTier != "HIGH" || gotQuery.Age != 78 {
		t.Fatalf("query not forwarded: %+v", gotQuery)
	}
}

func writeTestJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
