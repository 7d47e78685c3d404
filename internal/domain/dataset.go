package domain

// Dataset describes one ingested market event file.
type Dataset struct {
	DatasetID        string
	Source           string // file path or URI the events were loaded from
	Checksum         string // SHA256 of the raw input
	EventCount       int
	SkippedRows      int
	FirstTimestampNs int64
	LastTimestampNs  int64
	IngestedAtMs     int64
}
