package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"
)

func Healthz(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"service": service, "status": "ok"})
	}
}

type ReadinessCheck struct {
	Name  string
	Check func(context.Context) error
}

type checkResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ReadyzWithChecks checks every dependency in parallel and answers 503 when
// any of them fails. Results keep the order of checks.
func ReadyzWithChecks(service string, checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make([]checkResult, len(checks))
		var wg sync.WaitGroup
		for i, check := range checks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = runCheck(r.Context(), check)
			}()
		}
		wg.Wait()

		status, state := http.StatusOK, "ready"
		for _, res := range results {
			if res.Status != "ok" {
				status, state = http.StatusServiceUnavailable, "not_ready"
				break
			}
		}
		WriteJSON(w, status, map[string]any{"service": service, "status": state, "checks": results})
	}
}

func runCheck(ctx context.Context, check ReadinessCheck) checkResult {
	start := time.Now()
	res := checkResult{Name: check.Name, Status: "ok"}
	if err := check.Check(ctx); err != nil {
		res.Status, res.Error = "fail", err.Error()
	}
	res.DurationMs = time.Since(start).Milliseconds()
	return res
}

// CheckWithTimeout bounds a readiness check.
func CheckWithTimeout(timeout time.Duration, check func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return check(checkCtx)
	}
}
