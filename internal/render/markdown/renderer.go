// Package markdown renders harvested records into standalone markdown
// documents suitable for bulk upload to the document store.
package markdown

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/fscwatch/harvester/internal/harvest"
)

// Filenames stay readable but bounded; long titles get truncated.
const maxTitleRunes = 60

// Renderer produces one markdown file per record, named
// <id>_<source>_<title>.md with filesystem-unsafe runes replaced.
type Renderer struct{}

// New returns a Renderer.
func New() *Renderer {
	return &Renderer{}
}

// Render builds the document. Records without an ID cannot produce a
// stable filename and are rejected.
func (r *Renderer) Render(rec harvest.Record) (string, []byte, error) {
	if rec.ID == "" {
		return "", nil, fmt.Errorf("record %q has no id", rec.Title)
	}

	name := rec.ID
	if rec.SourceNormalized != "" {
		name += "_" + sanitize(rec.SourceNormalized)
	}
	if title := sanitize(truncateRunes(rec.Title, maxTitleRunes)); title != "" {
		name += "_" + title
	}
	name += ".md"

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rec.Title)
	fmt.Fprintf(&b, "- ID: %s\n", rec.ID)
	if rec.Date != "" {
		fmt.Fprintf(&b, "- Date: %s\n", rec.Date)
	}
	if rec.SourceRaw != "" {
		fmt.Fprintf(&b, "- Source: %s\n", rec.SourceRaw)
	}
	if rec.DetailURL != "" {
		fmt.Fprintf(&b, "- URL: %s\n", rec.DetailURL)
	}
	b.WriteString("\n")

	if text := strings.TrimSpace(rec.Content.Text); text != "" {
		b.WriteString("## Content\n\n")
		b.WriteString(text)
		b.WriteString("\n")
	}

	if len(rec.Attachments) > 0 {
		b.WriteString("\n## Attachments\n\n")
		for _, att := range rec.Attachments {
			status := "not downloaded"
			if att.Downloaded {
				status = fmt.Sprintf("%d bytes", att.SizeBytes)
			}
			fmt.Fprintf(&b, "- %s (%s, %s)\n", att.Name, att.URL, status)
		}
	}

	return name, []byte(b.String()), nil
}

// sanitize replaces filesystem-unsafe runes with underscores and
// collapses runs of them, keeping letters and digits of any script.
func sanitize(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

var _ harvest.Renderer = (*Renderer)(nil)
