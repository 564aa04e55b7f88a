package analysis

import "encoding/json"

// Job lifecycle statuses reported by the analysis service. Transitions only
// move forward: queued -> running -> completed|failed.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StatusRank orders statuses for monotonicity checks. Terminal states share
// the highest rank; an unknown status ranks below queued so it can never
// overwrite a known one.
func StatusRank(status string) int {
	switch status {
	case StatusQueued:
		return 1
	case StatusRunning:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return 0
	}
}

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// AgentState is the per-agent progress entry inside a status response. Output
// is carried opaquely for display.
type AgentState struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
}

type JobStatus struct {
	JobID    string                `json:"job_id,omitempty"`
	Status   string                `json:"status"`
	Progress int                   `json:"progress"`
	Agents   map[string]AgentState `json:"agents,omitempty"`
}

type ResultEnvelope struct {
	JobID  string          `json:"job_id"`
	Status string          `json:"status"`
	Result *ResultDocument `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ResultDocument is the full payload produced once a job completes. The five
// named fields are the ones the dashboard decomposes; anything else the
// service returns (qc, search_info, future additions) is kept opaquely in
// Extra and round-trips unchanged.
type ResultDocument struct {
	Triage                   map[string]interface{}
	Note                     map[string]interface{}
	Citations                []map[string]interface{}
	Trials                   []map[string]interface{}
	TreatmentRecommendations map[string]interface{}
	Extra                    map[string]json.RawMessage
}

func (d *ResultDocument) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for key, value := range raw {
		var err error
		switch key {
		case "triage":
			err = json.Unmarshal(value, &d.Triage)
		case "note":
			err = json.Unmarshal(value, &d.Note)
		case "citations":
			err = json.Unmarshal(value, &d.Citations)
		case "trials":
			err = json.Unmarshal(value, &d.Trials)
		case "treatment_recommendations":
			err = json.Unmarshal(value, &d.TreatmentRecommendations)
		default:
			if d.Extra == nil {
				d.Extra = make(map[string]json.RawMessage)
			}
			d.Extra[key] = value
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d ResultDocument) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Extra)+5)
	for key, value := range d.Extra {
		out[key] = value
	}
	if d.Triage != nil {
		out["triage"] = d.Triage
	}
	if d.Note != nil {
		out["note"] = d.Note
	}
	if d.Citations != nil {
		out["citations"] = d.Citations
	}
	if d.Trials != nil {
		out["trials"] = d.Trials
	}
	if d.TreatmentRecommendations != nil {
		out["treatment_recommendations"] = d.TreatmentRecommendations
	}
	return json.Marshal(out)
}

// Upload is one file selected for submission.
type Upload struct {
	Filename string
	Content  []byte
}

type MocaScore struct {
	Total int `json:"total"`
}

type Demographics struct {
	Age int    `json:"age"`
	Sex string `json:"sex"`
}

// TrialsQuery is the profile sent to the trial-matching endpoint.
type TrialsQuery struct {
	RiskTier        string                 `json:"risk_tier"`
	ImagingFindings map[string]interface{} `json:"imaging_findings"`
	MocaScore       int                    `json:"moca_score"`
	Age             int                    `json:"age"`
	Sex             string                 `json:"sex"`
}

type TrialsResponse struct {
	Trials []map[string]interface{} `json:"trials"`
}
