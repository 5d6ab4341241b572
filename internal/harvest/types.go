// Package harvest defines the core types and interfaces for the
// crawl-and-ingest pipeline: the record model, the collaborator
// interfaces, and the paginated crawl engine.
package harvest

// ListRecord carries the fields a listing page can supply. Detail-only
// fields live on Record and are populated through an explicit Merge, so
// they can never be read before the detail fetch happened.
type ListRecord struct {
	Title            string `json:"title"`
	Date             string `json:"date,omitempty"`
	SourceRaw        string `json:"source_raw,omitempty"`
	SourceNormalized string `json:"source,omitempty"`
	DetailURL        string `json:"detail_url,omitempty"`
}

// Content is the body of a record after a successful detail fetch.
type Content struct {
	Text string `json:"text"`
	HTML string `json:"html,omitempty"`
}

// Attachment is one binary resource tied to a Record. It is either
// fully downloaded (LocalPath, SizeBytes, Downloaded all set) or
// carries a DownloadError; never a silent partial file.
type Attachment struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	Type           string `json:"type,omitempty"`
	Classification string `json:"classification,omitempty"`
	Downloaded     bool   `json:"downloaded"`
	LocalPath      string `json:"local_path,omitempty"`
	SizeBytes      int64  `json:"size_bytes,omitempty"`
	Checksum       string `json:"checksum,omitempty"`
	DownloadError  string `json:"download_error,omitempty"`
}

// Detail holds the fields only a detail fetch can supply.
type Detail struct {
	Content     Content
	Attachments []Attachment
	Metadata    map[string]any
}

// Record is one harvested unit: list fields plus, when the detail fetch
// succeeded, the merged detail fields. The ID is assigned during batch
// finalization and immutable afterwards.
type Record struct {
	ID               string         `json:"id,omitempty"`
	Date             string         `json:"date,omitempty"`
	SourceRaw        string         `json:"source_raw,omitempty"`
	SourceNormalized string         `json:"source,omitempty"`
	Title            string         `json:"title"`
	DetailURL        string         `json:"detail_url,omitempty"`
	Content          Content        `json:"content"`
	Attachments      []Attachment   `json:"attachments,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// FromList builds a list-only Record, used when a record has no detail
// locator or its detail fetch terminally failed.
func FromList(lr ListRecord) Record {
	return Record{
		Date:             lr.Date,
		SourceRaw:        lr.SourceRaw,
		SourceNormalized: lr.SourceNormalized,
		Title:            lr.Title,
		DetailURL:        lr.DetailURL,
	}
}

// Merge combines list fields with detail fields into a full Record.
func Merge(lr ListRecord, d Detail) Record {
	rec := FromList(lr)
	rec.Content = d.Content
	rec.Attachments = d.Attachments
	rec.Metadata = d.Metadata
	return rec
}
