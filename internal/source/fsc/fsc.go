// Package fsc implements the harvest sources for the Taiwan Financial
// Supervisory Commission website: public announcements, law
// interpretations and penalty cases. All three share one listing markup
// and differ only in the POST form that selects the section.
package fsc

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fscwatch/harvester/internal/harvest"
)

const (
	defaultBaseURL = "https://www.fsc.gov.tw/ch/"
	defaultListURL = "https://www.fsc.gov.tw/ch/home.jsp"
)

// htmlBudget caps the raw HTML kept per record.
const htmlBudget = 5000

// contentSelectors are tried in order to locate the detail body.
var contentSelectors = []string{
	"div.page_content",
	"div.content",
	"div.article",
	"div#content",
	"div.main-content",
	"div.zbox",
	"div.page-edit",
	"div.ap",
}

// documentExtensions marks a link as an attachment candidate.
var documentExtensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".odt"}

// boilerplateAttachments are site-wide promotional links that appear on
// every page and are not attachments of the record itself.
var boilerplateAttachments = []string{
	"失智者經濟安全保障推動計畫",
	"金管會永續發展目標自願檢視報告",
	"永續發展目標",
	"經濟安全保障",
}

// unitNames maps the commission's bureau names to stable identifiers.
var unitNames = map[string]string{
	"銀行局":   "bank_bureau",
	"證券期貨局": "securities_bureau",
	"保險局":   "insurance_bureau",
	"檢查局":   "examination_bureau",
	"金管會":   "fsc_main",
}

// Params configures one section of the site.
type Params struct {
	Name    string
	BaseURL string
	ListURL string
	// Form is the section-selecting POST body; the page number is
	// added per request.
	Form map[string]string
}

// Source fetches and parses one FSC section.
type Source struct {
	params Params
}

// New builds a Source from explicit params.
func New(p Params) (*Source, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if p.BaseURL == "" {
		p.BaseURL = defaultBaseURL
	}
	if p.ListURL == "" {
		p.ListURL = defaultListURL
	}
	return &Source{params: p}, nil
}

// Announcements returns the public announcements source.
func Announcements() *Source {
	return mustSection("announcements", map[string]string{
		"id":         "97",
		"contentid":  "97",
		"parentpath": "0,2",
		"mcustomize": "multimessage_list.jsp",
		"pagesize":   "15",
	})
}

// LawInterpretations returns the law interpretations source.
func LawInterpretations() *Source {
	return mustSection("laws", map[string]string{
		"id":         "128",
		"contentid":  "128",
		"parentpath": "0,3",
		"mcustomize": "lawnew_list.jsp",
		"pagesize":   "15",
	})
}

// Penalties returns the penalty cases source.
func Penalties() *Source {
	return mustSection("penalties", map[string]string{
		"id":         "131",
		"contentid":  "131",
		"parentpath": "0,2",
		"mcustomize": "multimessage_list.jsp",
		"pagesize":   "15",
	})
}

// ForName resolves a configured source name to its Source.
func ForName(name string) (*Source, error) {
	switch name {
	case "announcements":
		return Announcements(), nil
	case "laws":
		return LawInterpretations(), nil
	case "penalties":
		return Penalties(), nil
	default:
		return nil, fmt.Errorf("unknown source %q", name)
	}
}

func mustSection(name string, form map[string]string) *Source {
	s, err := New(Params{Name: name, Form: form})
	if err != nil {
		panic(err)
	}
	return s
}

// WithListURL overrides the listing endpoint, for mirrors and test
// servers.
func (s *Source) WithListURL(listURL string) *Source {
	if listURL != "" {
		s.params.ListURL = listURL
		s.params.BaseURL = listURL
	}
	return s
}

// Name implements harvest.Source.
func (s *Source) Name() string {
	return s.params.Name
}

// ListRequest implements harvest.Source. Pagination is driven by the
// page form field against a constant URL.
func (s *Source) ListRequest(page int) (string, url.Values) {
	form := url.Values{}
	for k, v := range s.params.Form {
		form.Set(k, v)
	}
	form.Set("page", strconv.Itoa(page))
	return s.params.ListURL, form
}

// ParseList implements harvest.Source. The listing is a list of
// li[role=row] rows; the first row is the table header.
func (s *Source) ParseList(payload []byte) ([]harvest.ListRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	var records []harvest.ListRecord
	doc.Find(`li[role="row"]`).Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		link := row.Find("span.title > a").First()
		if link.Length() == 0 {
			return
		}
		title, ok := link.Attr("title")
		if !ok || harvest.CleanText(title) == "" {
			title = link.Text()
		}
		title = harvest.CleanText(title)
		if title == "" {
			return
		}

		unit := harvest.CleanText(row.Find("span.unit").First().Text())
		href, _ := link.Attr("href")

		records = append(records, harvest.ListRecord{
			Title:            title,
			Date:             harvest.ParseDate(row.Find("span.date").First().Text()),
			SourceRaw:        unit,
			SourceNormalized: NormalizeUnit(unit),
			DetailURL:        harvest.NormalizeURL(href, s.params.BaseURL),
		})
	})
	return records, nil
}

// ParseDetail implements harvest.Source. A page without a recognizable
// content container still yields a record; attachment discovery then
// falls back to the whole document.
func (s *Source) ParseDetail(payload []byte, item harvest.ListRecord) (harvest.Detail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return harvest.Detail{}, fmt.Errorf("parse detail html: %w", err)
	}

	var content *goquery.Selection
	for _, selector := range contentSelectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			content = sel
			break
		}
	}

	var detail harvest.Detail
	scope := doc.Selection
	if content != nil {
		scope = content
		detail.Content.Text = harvest.CleanText(content.Text())
		if html, err := goquery.OuterHtml(content); err == nil {
			detail.Content.HTML = truncate(html, htmlBudget)
		}
	}

	scope.Find("a").Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok || !isDocumentLink(href) {
			return
		}
		name := harvest.CleanText(link.Text())
		for _, keyword := range boilerplateAttachments {
			if strings.Contains(name, keyword) {
				return
			}
		}
		detail.Attachments = append(detail.Attachments, harvest.Attachment{
			Name: name,
			URL:  harvest.NormalizeURL(href, s.params.BaseURL),
			Type: fileType(href),
		})
	})
	return detail, nil
}

// NormalizeUnit maps a bureau display name to its stable identifier,
// "unknown" when unmapped.
func NormalizeUnit(unit string) string {
	if id, ok := unitNames[unit]; ok {
		return id
	}
	return "unknown"
}

func isDocumentLink(href string) bool {
	lower := strings.ToLower(href)
	for _, ext := range documentExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

// fileType extracts the extension, dropping query-style suffixes like
// ".pdf&flag=doc" the site appends.
func fileType(href string) string {
	idx := strings.LastIndex(href, ".")
	if idx < 0 || idx == len(href)-1 {
		return "unknown"
	}
	ext := strings.ToLower(href[idx+1:])
	for _, sep := range []string{"&", "?"} {
		if cut := strings.Index(ext, sep); cut >= 0 {
			ext = ext[:cut]
		}
	}
	if ext == "" {
		return "unknown"
	}
	return ext
}

var _ harvest.Source = (*Source)(nil)
