package conversion

import (
	"fmt"
	"strings"

	"github.com/parleyhq/parley/internal/transcript"
)

// RenderEntry renders one transcript entry as an HTML fragment. Assistant
// content is treated as markdown; user, system, and error content is
// escaped verbatim.
func (c *Converter) RenderEntry(e transcript.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="entry entry-%s">`, e.Role)

	switch e.Role {
	case transcript.RoleAssistant:
		b.WriteString(c.ConvertToSafeHTML(e.Content))
		for _, tool := range e.Tools {
			fmt.Fprintf(&b, `<div class="tool-result" data-tool="%s"><pre>%s</pre></div>`,
				EscapeHTML(tool.Name), EscapeHTML(string(tool.Result)))
		}
		if len(e.Trace) > 0 {
			b.WriteString(`<ol class="trace">`)
			for _, step := range e.Trace {
				b.WriteString("<li>" + EscapeHTML(step) + "</li>")
			}
			b.WriteString("</ol>")
		}
	default:
		b.WriteString("<p>" + EscapeHTML(e.Content) + "</p>")
	}

	b.WriteString("</div>")
	return b.String()
}

// RenderTranscript renders a full transcript snapshot as HTML fragments in
// order.
func (c *Converter) RenderTranscript(entries []transcript.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(c.RenderEntry(e))
		b.WriteString("\n")
	}
	return b.String()
}
