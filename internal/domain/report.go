package domain

import (
	"sort"
	"strings"
	"sync"
)

// Report collects per-object errors so an operator sees every problem in one
// pass instead of stopping at the first. Safe for concurrent use.
type Report struct {
	mu     sync.Mutex
	errors []error
}

// Add records one error. Nil errors are ignored.
func (r *Report) Add(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

// Errors returns the collected errors sorted by message for stable output.
func (r *Report) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errors))
	copy(out, r.errors)
	sort.Slice(out, func(i, j int) bool { return out[i].Error() < out[j].Error() })
	return out
}

// Empty reports whether no errors were collected.
func (r *Report) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors) == 0
}

// Err returns nil when the report is empty, otherwise a single error joining
// every collected message.
func (r *Report) Err() error {
	errs := r.Errors()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return &ReportError{Count: len(errs), Message: strings.Join(msgs, "\n")}
}

// ReportError aggregates every per-object error from a run.
type ReportError struct {
	Count   int
	Message string
}

func (e *ReportError) Error() string { return e.Message }
