package harvest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fscwatch/harvester/internal/harvest"
)

func TestCleanText(t *testing.T) {
	assert.Equal(t, "", harvest.CleanText(""))
	assert.Equal(t, "a b c", harvest.CleanText("  a \t b\n\nc  "))
	assert.Equal(t, "already clean", harvest.CleanText("already clean"))
}

func TestParseDate(t *testing.T) {
	cases := map[string]string{
		"2025-11-12":   "2025-11-12",
		"2025/11/12":   "2025-11-12",
		"2025.11.12":   "2025-11-12",
		"2025年11月12日": "2025-11-12",
		"2025年1月2日":   "2025-01-02",
		" 2025-11-12 ": "2025-11-12",
		"not a date":   "",
		"":             "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, harvest.ParseDate(raw), "input %q", raw)
	}
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://x.example/a", harvest.NormalizeURL("https://x.example/a", "https://base.example"))
	assert.Equal(t, "https://base.example/rel", harvest.NormalizeURL("/rel", "https://base.example/page"))
	assert.Equal(t, "https://base.example/dir/rel", harvest.NormalizeURL("rel", "https://base.example/dir/page"))
	assert.Equal(t, "", harvest.NormalizeURL("", "https://base.example"))
	assert.Equal(t, "naked", harvest.NormalizeURL("naked", ""))
}

func TestMerge(t *testing.T) {
	lr := harvest.ListRecord{Title: "t", Date: "2025-01-01", DetailURL: "u", SourceRaw: "銀行局", SourceNormalized: "bank_bureau"}
	detail := harvest.Detail{
		Content:  harvest.Content{Text: "body"},
		Metadata: map[string]any{"case_no": "x1"},
	}
	rec := harvest.Merge(lr, detail)
	assert.Equal(t, "t", rec.Title)
	assert.Equal(t, "bank_bureau", rec.SourceNormalized)
	assert.Equal(t, "body", rec.Content.Text)
	assert.Equal(t, "x1", rec.Metadata["case_no"])
	assert.Empty(t, rec.ID)
}
