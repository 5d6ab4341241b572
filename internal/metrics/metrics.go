// Package metrics defines the Prometheus instrumentation for the
// harvester pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set groups the counters for one pipeline instance. Counters live on an
// explicit instance rather than package globals so parallel runs and
// tests never share state; callers pass their own Registerer.
type Set struct {
	RequestsTotal         prometheus.Counter
	RequestErrorsTotal    prometheus.Counter
	RecordsHarvested      prometheus.Counter
	PagesFetched          prometheus.Counter
	AttachmentsDownloaded prometheus.Counter
	AttachmentErrors      prometheus.Counter
	UploadsTotal          prometheus.Counter
	UploadErrorsTotal     prometheus.Counter
	UploadsSkipped        prometheus.Counter
	UploadedBytes         prometheus.Counter
}

// New registers a fresh Set against the given registerer.
func New(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		RequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "The total number of HTTP requests attempted.",
		}),
		RequestErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_request_errors_total",
			Help: "The total number of failed HTTP request attempts.",
		}),
		RecordsHarvested: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_records_total",
			Help: "The total number of records harvested.",
		}),
		PagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_pages_total",
			Help: "The total number of listing pages fetched.",
		}),
		AttachmentsDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_attachments_total",
			Help: "The total number of attachments downloaded.",
		}),
		AttachmentErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_attachment_errors_total",
			Help: "The total number of attachment downloads that failed.",
		}),
		UploadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_uploads_total",
			Help: "The total number of documents uploaded to the external store.",
		}),
		UploadErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_upload_errors_total",
			Help: "The total number of document uploads that failed.",
		}),
		UploadsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_uploads_skipped_total",
			Help: "The total number of documents skipped because the manifest already records success.",
		}),
		UploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_uploaded_bytes_total",
			Help: "The total number of bytes shipped to the external store.",
		}),
	}
}
