package mirror

import "time"

// now formats the current local wall time for the human-visible status
// fields, e.g. "(KST) 2023-10-14 10:30:00". It is never used for scheduling.
//
// Declared as var so tests can stub it.
var now = func() string {
	t := time.Now()
	zone, _ := t.Zone()
	return "(" + zone + ") " + t.Format("2006-01-02 15:04:05")
}

// Status is the engine's progress snapshot, serialized as-is by the status
// endpoint. All access goes through the Task mutex; the three is_* flags are
// the advisory mutual-exclusion scheme between the periodic drivers.
type Status struct {
	// IndexFiles is the remote index file list the mirror reads from,
	// snapshotted from configuration at engine construction.
	IndexFiles []string `json:"index_files"`

	// TotalItems is the size of the identifier set the current pipeline run
	// is processing.
	TotalItems int `json:"total_items"`

	// BatchTotal and BatchCompleted count batches of the current pipeline
	// run; BatchCompleted never exceeds BatchTotal.
	BatchTotal     int `json:"batch_total"`
	BatchCompleted int `json:"batch_completed"`

	// ItemsProcessed is the cumulative number of items handled by completed
	// batches. It survives the end-of-run reset so the last run's volume
	// stays visible until the next run starts.
	ItemsProcessed int `json:"items_processed"`

	IsMirroringGalleryinfo bool `json:"is_mirroring_galleryinfo"`
	IsConvertingToInfo     bool `json:"is_converting_to_info"`
	IsCheckingIntegrity    bool `json:"is_checking_integrity"`

	// LastCheckedAt is stamped at the start of every mirror iteration.
	// LastMirroredAt is stamped only by iterations that wrote locally.
	LastCheckedAt  string `json:"last_checked_at"`
	LastMirroredAt string `json:"last_mirrored_at"`
}

// reset clears the per-run counters at the end of a pipeline run.
// ItemsProcessed is left alone; the next run zeroes it on entry.
func (s *Status) reset() {
	s.TotalItems = 0
	s.BatchTotal = 0
	s.BatchCompleted = 0
}
