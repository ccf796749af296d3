package ingest

import "errors"

var (
	// ErrMissingColumn is returned when the CSV header lacks Device_Name or Value.
	ErrMissingColumn = errors.New("ingest: missing required column")

	// ErrStorage wraps every store failure that aborted an ingestion.
	ErrStorage = errors.New("ingest: storage failure")
)
