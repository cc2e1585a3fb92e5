package connector

import (
	"time"

	"github.com/hashicorp/go-multierror"
)

// RunReport summarizes one pipeline run. Record-level failures are
// collected here rather than aborting the batch; run-level failures
// (auth, fetch, lease) are returned as errors from Run instead.
type RunReport struct {
	// RunID uniquely identifies the run, for log correlation.
	RunID string

	StartedAt   time.Time
	CompletedAt time.Time

	// Fetched is the number of appointments returned by the source.
	Fetched int

	// Synced is the number of service requests created this run.
	Synced int

	// Skipped is the number of appointments that already had a sync
	// record.
	Skipped int

	// Recovered is the number of tickets found in the sink without a
	// local sync record (a prior run crashed between create and
	// persist) and backfilled instead of re-created.
	Recovered int

	// MappingFailures and WriteFailures count skip-and-log records.
	MappingFailures int
	WriteFailures   int

	// Cursor is the cursor position after the run.
	Cursor time.Time

	errs *multierror.Error
}

// recordFailure collects a record-level error.
func (r *RunReport) recordFailure(err error) {
	r.errs = multierror.Append(r.errs, err)
}

// Err returns the aggregated record-level failures, or nil when every
// appointment was synced or cleanly skipped.
func (r *RunReport) Err() error {
	return r.errs.ErrorOrNil()
}
