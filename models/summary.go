package models

// ItemError records why one listing of a run was skipped or failed.
type ItemError struct {
	Key     string `json:"key"`
	Builder string `json:"builder,omitempty"`
	Reason  string `json:"reason"`
}

// BatchSummary is the results breakdown of one ingestion run.
type BatchSummary struct {
	BatchID          string      `json:"batch_id"`
	Received         int         `json:"received"`
	Created          int         `json:"created"`
	PriceChanged     int         `json:"price_changed"`
	AttributeChanged int         `json:"attribute_changed"`
	Unchanged        int         `json:"unchanged"`
	Delisted         int         `json:"delisted"`
	Skipped          int         `json:"skipped"`
	Duplicates       int         `json:"duplicates"`
	Errored          int         `json:"errored"`
	Removed          int         `json:"removed,omitempty"`
	Errors           []ItemError `json:"errors,omitempty"`
}

// SweepResult reports what one garbage-collection pass removed.
type SweepResult struct {
	RemovedListings    int `json:"removed_listings"`
	RemovedEvents      int `json:"removed_orphan_events"`
	RemovedIntervals   int `json:"removed_orphan_intervals"`
	RemovedEvaluations int `json:"removed_orphan_evaluations"`
}

// Total returns the number of rows removed.
func (r SweepResult) Total() int {
	return r.RemovedListings + r.RemovedEvents + r.RemovedIntervals + r.RemovedEvaluations
}

// EvaluationSummary is the results breakdown of one evaluation run.
type EvaluationSummary struct {
	Considered int         `json:"considered"`
	Evaluated  int         `json:"evaluated"`
	Skipped    int         `json:"skipped"`
	Failed     int         `json:"failed"`
	Deferred   int         `json:"deferred"`
	Attempts   int         `json:"attempts"`
	Errors     []ItemError `json:"errors,omitempty"`
}
