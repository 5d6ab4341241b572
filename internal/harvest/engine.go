package harvest

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/fetch"
	"github.com/fscwatch/harvester/internal/metrics"
)

// EngineConfig bounds one crawl run.
type EngineConfig struct {
	// StartPage is the first listing page to visit (1-based).
	StartPage int
	// MaxPages caps how many listing pages are visited; 0 means no cap.
	MaxPages int
	// MaxConsecutiveEmpty terminates the run after this many listing
	// pages in a row yielded zero records.
	MaxConsecutiveEmpty int
	// FetchDetail enables the per-record detail fetch.
	FetchDetail bool
}

// Result is the terminal state of one crawl run.
type Result struct {
	Records      []Record
	PagesVisited int
	Dropped      int
	Stats        fetch.Stats
}

// Engine converts a page-indexed remote listing into a flat,
// deduplicated stream of enriched records. It is single-threaded by
// design: the remote source rate-limits, and the transport's fixed
// inter-request interval is the sole throttle.
type Engine struct {
	source    Source
	transport Transport
	logger    *zap.Logger
	metrics   *metrics.Set
	cfg       EngineConfig
}

// NewEngine constructs an Engine. The metrics set may be nil.
func NewEngine(source Source, transport Transport, cfg EngineConfig, logger *zap.Logger, set *metrics.Set) *Engine {
	if cfg.StartPage <= 0 {
		cfg.StartPage = 1
	}
	if cfg.MaxConsecutiveEmpty <= 0 {
		cfg.MaxConsecutiveEmpty = 3
	}
	return &Engine{
		source:    source,
		transport: transport,
		logger:    logger,
		metrics:   set,
		cfg:       cfg,
	}
}

// Run drives the crawl to completion and assigns record IDs. A canceled
// context stops the run after the in-flight item; records gathered so
// far are returned with ctx.Err().
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var (
		records []Record
		seen    = make(map[string]struct{})
		result  Result
		empty   int
	)

	page := e.cfg.StartPage
	e.logger.Info("crawl starting",
		zap.String("source", e.source.Name()),
		zap.Int("start_page", page))

	for {
		if err := ctx.Err(); err != nil {
			e.finalize(&result, records)
			return result, err
		}
		if e.cfg.MaxPages > 0 && result.PagesVisited >= e.cfg.MaxPages {
			e.logger.Info("page ceiling reached", zap.Int("max_pages", e.cfg.MaxPages))
			break
		}

		items := e.fetchListPage(ctx, page)
		result.PagesVisited++
		if e.metrics != nil {
			e.metrics.PagesFetched.Inc()
		}

		if len(items) == 0 {
			empty++
			e.logger.Info("empty listing page",
				zap.Int("page", page),
				zap.Int("consecutive_empty", empty))
			if empty >= e.cfg.MaxConsecutiveEmpty {
				e.logger.Info("consecutive empty pages, stopping",
					zap.Int("threshold", e.cfg.MaxConsecutiveEmpty))
				break
			}
			page++
			continue
		}
		empty = 0

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				e.finalize(&result, records)
				return result, err
			}
			key := dedupKey(item)
			if _, dup := seen[key]; dup {
				e.logger.Debug("duplicate record in stream", zap.String("title", item.Title))
				continue
			}
			seen[key] = struct{}{}

			rec, ok := e.enrich(ctx, item)
			if !ok {
				result.Dropped++
				continue
			}
			records = append(records, rec)
			if e.metrics != nil {
				e.metrics.RecordsHarvested.Inc()
			}
		}

		page++
	}

	e.finalize(&result, records)
	e.logger.Info("crawl finished",
		zap.String("source", e.source.Name()),
		zap.Int("records", len(result.Records)),
		zap.Int("pages", result.PagesVisited),
		zap.Int64("requests", result.Stats.TotalRequests))
	return result, nil
}

// fetchListPage fetches and parses one listing page. Terminal fetch or
// parse failures degrade to an empty page so they feed the
// consecutive-empty counter instead of aborting the run.
func (e *Engine) fetchListPage(ctx context.Context, page int) []ListRecord {
	target, form := e.source.ListRequest(page)
	e.logger.Info("fetching listing page", zap.Int("page", page), zap.String("url", target))

	var (
		payload []byte
		err     error
	)
	if form != nil {
		payload, err = e.transport.PostForm(ctx, target, form)
	} else {
		payload, err = e.transport.Get(ctx, target)
	}
	if err != nil {
		e.logger.Error("listing page fetch failed", zap.Int("page", page), zap.Error(err))
		return nil
	}

	items, err := e.source.ParseList(payload)
	if err != nil {
		e.logger.Error("listing page parse failed", zap.Int("page", page), zap.Error(err))
		return nil
	}
	e.logger.Info("listing page parsed", zap.Int("page", page), zap.Int("items", len(items)))
	return items
}

// enrich issues the detail fetch when the record carries a locator. A
// failed fetch degrades the record to list-only fields; a malformed
// detail payload drops the single record.
func (e *Engine) enrich(ctx context.Context, item ListRecord) (Record, bool) {
	if !e.cfg.FetchDetail || item.DetailURL == "" {
		return FromList(item), true
	}

	payload, err := e.transport.Get(ctx, item.DetailURL)
	if err != nil {
		e.logger.Warn("detail fetch failed, keeping list fields",
			zap.String("url", item.DetailURL),
			zap.Error(err))
		return FromList(item), true
	}

	detail, err := e.source.ParseDetail(payload, item)
	if err != nil {
		e.logger.Error("detail parse failed, dropping record",
			zap.String("url", item.DetailURL),
			zap.Error(err))
		return Record{}, false
	}
	return Merge(item, detail), true
}

func (e *Engine) finalize(result *Result, records []Record) {
	AssignIDs(records, e.source.Name())
	result.Records = records
	result.Stats = e.transport.Stats()
}

func dedupKey(item ListRecord) string {
	return strings.Join([]string{item.Title, item.Date, item.DetailURL}, "\x1f")
}
