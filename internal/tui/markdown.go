package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// noMarginStyle strips glamour's default document margin so rendered
// summaries sit flush with the rest of the transcript pane.
const noMarginStyle = `{
	"document": {
		"margin": 0,
		"block_prefix": "",
		"block_suffix": ""
	}
}`

// newMarkdownRenderer builds a glamour renderer word-wrapped to width.
// A fixed dark
// style plus WithWordWrap, avoiding glamour.WithAutoStyle (it queries the
// terminal background via an OSC escape sequence that can leak into the
// input stream over a relay connection).
func newMarkdownRenderer(width int) (*glamour.TermRenderer, error) {
	if width < 20 {
		width = 20
	}
	return glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithStylesFromJSONBytes([]byte(noMarginStyle)),
		glamour.WithWordWrap(width),
	)
}

// renderMarkdown renders text through the model's glamour renderer,
// falling back to the raw text if rendering fails or none is configured
// yet (before the first WindowSizeMsg arrives).
func (m Model) renderMarkdown(text string) string {
	if m.md == nil {
		return text
	}
	out, err := m.md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
