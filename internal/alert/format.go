// Package alert renders alert records into transport-ready message text,
// including the shortened validation link back to the news platform.
package alert

import (
	"context"
	"strings"

	"alertbot/internal/storage"
)

// MediaType maps the platform's numeric media-type codes to display names.
func MediaType(code int) string {
	switch code {
	case 7, 8:
		return "Gráfica"
	case 10:
		return "Online"
	case 9, 11:
		return "Televisión"
	case 6, 12:
		return "Radio"
	default:
		return "Otro"
	}
}

var markdownEscaper = strings.NewReplacer(
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"`", "\\`",
)

// EscapeMarkdown escapes the transport's inline formatting characters in
// dynamic text so titles can't break the message layout.
func EscapeMarkdown(s string) string {
	return strings.TrimSpace(markdownEscaper.Replace(s))
}

// Formatter builds the outgoing message body for one alert.
type Formatter struct {
	Links *LinkBuilder
}

func NewFormatter(links *LinkBuilder) *Formatter {
	return &Formatter{Links: links}
}

// Format renders the alert. It may suspend on the link shortener; a
// shortener failure degrades to the long URL, never to an error.
func (f *Formatter) Format(ctx context.Context, a storage.Alert) string {
	medio := EscapeMarkdown(a.SourceName)
	titulo := EscapeMarkdown(a.Title)
	descripcion := EscapeMarkdown(a.Description)
	enlace := f.Links.AlertLink(ctx, a)

	tipo := MediaType(a.MediaTypeID)
	var lines []string
	// The upstream format writes "Tipo Medio" (no "de") for Online only.
	if tipo == "Online" {
		lines = append(lines, "Tipo Medio: *Online*")
	} else {
		lines = append(lines, "Tipo de medio: *"+tipo+"*")
	}
	lines = append(lines, "Medio: *"+medio+"*")

	if descripcion != "" {
		lines = append(lines, "Programa/Sección: *"+descripcion+"*")
	}

	lines = append(lines, "", titulo, "", "Noticia en GlobalNews: "+enlace)
	return strings.Join(lines, "\n")
}
