package domain

// TimestampEntry is a single timestamped text segment.
type TimestampEntry struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
}

// Transcription is the success payload of a completed job.
type Transcription struct {
	Text          string           `json:"text"`
	Timestamps    []TimestampEntry `json:"timestamps,omitempty"`
	VideoFilename string           `json:"video_filename"`
}

func (t Transcription) Clone() Transcription {
	cp := t
	if t.Timestamps != nil {
		cp.Timestamps = append([]TimestampEntry(nil), t.Timestamps...)
	}
	return cp
}
