package interceptors

import (
	"net/http"

	"go.temporal.io/sdk/activity"
)

// WorkflowHTTPRoundTripper stamps outgoing HTTP requests with the workflow
// execution identity so downstream services can correlate calls.
type WorkflowHTTPRoundTripper struct {
	base http.RoundTripper
}

func NewWorkflowHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WorkflowHTTPRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper. Outside an activity context
// (plain HTTP handlers, tests) the request passes through unchanged.
func (w *WorkflowHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	func() {
		defer func() {
			_ = recover() // not in an activity context
		}()
		info := activity.GetInfo(req.Context())
		if info.WorkflowExecution.ID != "" {
			req.Header.Set("X-Workflow-ID", info.WorkflowExecution.ID)
			req.Header.Set("X-Run-ID", info.WorkflowExecution.RunID)
		}
	}()
	return w.base.RoundTrip(req)
}
