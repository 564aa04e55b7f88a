package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	submissionsTotal   atomic.Int64
	submissionFailures atomic.Int64
	pollsTotal         atomic.Int64
	pollFailures       atomic.Int64
	aggregationsTotal  atomic.Int64
	activeSessions     atomic.Int64
)

func IncSubmission()        { submissionsTotal.Add(1) }
func IncSubmissionFailure() { submissionFailures.Add(1) }
func IncPoll()              { pollsTotal.Add(1) }
func IncPollFailure()       { pollFailures.Add(1) }
func IncAggregation()       { aggregationsTotal.Add(1) }
func IncSessions()          { activeSessions.Add(1) }
func DecSessions()          { activeSessions.Add(-1) }

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP cognitriage_console_submissions_total Number of analysis jobs submitted.\n")
	fmt.Fprintf(w, "# TYPE cognitriage_console_submissions_total counter\n")
	fmt.Fprintf(w, "cognitriage_console_submissions_total %d\n", submissionsTotal.Load())

	fmt.Fprintf(w, "# HELP cognitriage_console_submission_failures_total Number of job submissions that failed.\n")
	fmt.Fprintf(w, "# TYPE cognitriage_console_submission_failures_total counter\n")
	fmt.Fprintf(w, "cognitriage_console_submission_failures_total %d\n", submissionFailures.Load())

	fmt.Fprintf(w, "# HELP cognitriage_console_polls_total Number of status polls issued.\n")
	fmt.Fprintf(w, "# TYPE cognitriage_console_polls_total counter\n")
	fmt.Fprintf(w, "cognitriage_console_polls_total %d\n", pollsTotal.Load())

	fmt.Fprintf(w, "# HELP cognitriage_console_poll_failures_total Number of status polls that failed in transport.\n")
	fmt.Fprintf(w, "# TYPE cognitriage_console_poll_failures_total counter\n")
	fmt.Fprintf(w, "cognitriage_console_poll_failures_total %d\n", pollFailures.Load())

	fmt.Fprintf(w, "# HELP cognitriage_console_aggregations_total Number of result documents aggregated into sessions.\n")
	fmt.Fprintf(w, "# TYPE cognitriage_console_aggregations_total counter\n")
	fmt.Fprintf(w, "cognitriage_console_aggregations_total %d\n", aggregationsTotal.Load())

	fmt.Fprintf(w, "# HELP cognitriage_console_active_sessions Number of live dashboard sessions.\n")
	fmt.Fprintf(w, "# TYPE cognitriage_console_active_sessions gauge\n")
	fmt.Fprintf(w, "cognitriage_console_active_sessions %d\n", activeSessions.Load())
}
