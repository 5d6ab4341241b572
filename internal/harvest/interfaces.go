package harvest

import (
	"context"
	"net/url"
	"time"

	"github.com/fscwatch/harvester/internal/fetch"
)

// Source describes one remote paged listing: how to request a page and
// how to parse its payloads. Concrete sources (announcements, law
// interpretations, penalties) implement this.
type Source interface {
	// Name identifies the source; it prefixes assigned record IDs.
	Name() string
	// ListRequest returns the target and optional form values for the
	// given page. A nil form means a plain GET.
	ListRequest(page int) (target string, form url.Values)
	// ParseList extracts the partially-populated records from a raw
	// listing payload, preserving source order.
	ParseList(payload []byte) ([]ListRecord, error)
	// ParseDetail extracts detail fields from a raw detail payload.
	ParseDetail(payload []byte, item ListRecord) (Detail, error)
}

// Transport is the retrying HTTP client surface the engine consumes.
// Satisfied by *fetch.Client.
type Transport interface {
	Get(ctx context.Context, target string) ([]byte, error)
	PostForm(ctx context.Context, target string, form url.Values) ([]byte, error)
	Stats() fetch.Stats
}

// RecordStore appends finalized records to a persistent dataset and is
// responsible for cross-run deduplication by ID.
type RecordStore interface {
	ReadAll(ctx context.Context, source string) ([]Record, error)
	Append(ctx context.Context, source string, records []Record) (int, error)
}

// Renderer turns a finalized record into one locally-storable document
// that becomes an upload candidate.
type Renderer interface {
	Render(rec Record) (filename string, body []byte, err error)
}

// Publisher pushes run-completion events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (injectable for testing).
type Clock interface {
	Now() time.Time
}
