package handlers

import (
	"bytes"
	"html/template"

	"github.com/MegaGrindStone/shopassist-web-ui/internal/models"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
)

type contentRenderer struct {
	// md is nil when assistant replies are shown as plain text.
	md goldmark.Markdown
}

func newContentRenderer(markdown bool) contentRenderer {
	if !markdown {
		return contentRenderer{}
	}
	return contentRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(
				highlighting.NewHighlighting(
					highlighting.WithStyle("github"),
				),
			),
		),
	}
}

// messageBody renders the body of a message. User messages are always escaped text. Assistant messages go
// through Markdown when it is enabled; goldmark drops raw HTML from the source, so the output stays safe
// to embed.
func (r contentRenderer) messageBody(msg models.Message) template.HTML {
	if r.md != nil && msg.Role == models.RoleAssistant {
		var buf bytes.Buffer
		if err := r.md.Convert([]byte(msg.Content), &buf); err == nil {
			return template.HTML(buf.String())
		}
	}
	return template.HTML("<p>" + template.HTMLEscapeString(msg.Content) + "</p>")
}
