package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fscwatch/harvester/internal/harvest"
)

func TestRenderFilename(t *testing.T) {
	r := New()
	name, _, err := r.Render(harvest.Record{
		ID:               "fsc_ann_20250315_0001",
		SourceNormalized: "banking-bureau",
		Title:            "Notice: rules / amendments (2025)",
	})
	require.NoError(t, err)
	assert.Equal(t, "fsc_ann_20250315_0001_banking-bureau_Notice_rules_amendments_2025.md", name)
}

func TestRenderKeepsCJKInFilename(t *testing.T) {
	r := New()
	name, _, err := r.Render(harvest.Record{
		ID:    "fsc_pen_20250301_0002",
		Title: "金融監督管理委員會 裁罰案",
	})
	require.NoError(t, err)
	assert.Equal(t, "fsc_pen_20250301_0002_金融監督管理委員會_裁罰案.md", name)
}

func TestRenderTruncatesLongTitles(t *testing.T) {
	r := New()
	name, _, err := r.Render(harvest.Record{
		ID:    "fsc_ann_20250315_0003",
		Title: strings.Repeat("x", 200),
	})
	require.NoError(t, err)
	assert.Equal(t, "fsc_ann_20250315_0003_"+strings.Repeat("x", 60)+".md", name)
}

func TestRenderBody(t *testing.T) {
	r := New()
	_, body, err := r.Render(harvest.Record{
		ID:        "fsc_ann_20250315_0001",
		Title:     "Capital adequacy ruling",
		Date:      "2025-03-15",
		SourceRaw: "銀行局",
		DetailURL: "https://fsc.example/detail/1",
		Content:   harvest.Content{Text: "The commission announced new ratios."},
		Attachments: []harvest.Attachment{
			{Name: "ruling.pdf", URL: "https://fsc.example/f/1.pdf", Downloaded: true, SizeBytes: 2048},
			{Name: "annex.doc", URL: "https://fsc.example/f/2.doc"},
		},
	})
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "# Capital adequacy ruling")
	assert.Contains(t, text, "- Date: 2025-03-15")
	assert.Contains(t, text, "- Source: 銀行局")
	assert.Contains(t, text, "The commission announced new ratios.")
	assert.Contains(t, text, "ruling.pdf (https://fsc.example/f/1.pdf, 2048 bytes)")
	assert.Contains(t, text, "annex.doc (https://fsc.example/f/2.doc, not downloaded)")
}

func TestRenderRequiresID(t *testing.T) {
	r := New()
	_, _, err := r.Render(harvest.Record{Title: "no id"})
	require.Error(t, err)
}
