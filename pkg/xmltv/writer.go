package xmltv

import (
	"encoding/xml"
	"fmt"
	"io"
)

// Writer streams an XMLTV document. Channels must all be written before
// the first programme. The first write error sticks; later calls return
// it unchanged.
type Writer struct {
	w             io.Writer
	generator     string
	headerWritten bool
	channelsDone  bool
	err           error
}

// NewWriter creates an XMLTV writer identifying itself as generator.
func NewWriter(w io.Writer, generator string) *Writer {
	if generator == "" {
		generator = "fieldcast"
	}
	return &Writer{w: w, generator: generator}
}

func (w *Writer) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

// WriteHeader writes the XML declaration and opens the tv element.
// WriteChannel and WriteProgramme call it implicitly.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return w.err
	}
	w.headerWritten = true
	w.printf("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	w.printf("<tv generator-info-name=%q>\n", w.generator)
	return w.err
}

// WriteChannel writes one channel definition.
func (w *Writer) WriteChannel(ch *Channel) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if w.channelsDone {
		w.err = fmt.Errorf("channels must be written before programmes")
		return w.err
	}

	w.printf("  <channel id=\"%s\">\n", escape(ch.ID))
	w.printf("    <display-name>%s</display-name>\n", escape(ch.DisplayName))
	if ch.Icon != "" {
		w.printf("    <icon src=\"%s\"/>\n", escape(ch.Icon))
	}
	if ch.URL != "" {
		w.printf("    <url>%s</url>\n", escape(ch.URL))
	}
	w.printf("  </channel>\n")
	return w.err
}

// WriteProgramme writes one programme entry.
func (w *Writer) WriteProgramme(p *Programme) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.channelsDone = true

	lang := p.Language
	if lang == "" {
		lang = "en"
	}

	w.printf("  <programme start=\"%s\" stop=\"%s\" channel=\"%s\">\n",
		FormatTime(p.Start), FormatTime(p.Stop), escape(p.Channel))
	w.printf("    <title lang=\"%s\">%s</title>\n", lang, escape(p.Title))
	if p.SubTitle != "" {
		w.printf("    <sub-title lang=\"%s\">%s</sub-title>\n", lang, escape(p.SubTitle))
	}
	if p.Description != "" {
		w.printf("    <desc lang=\"%s\">%s</desc>\n", lang, escape(p.Description))
	}
	if p.Category != "" {
		w.printf("    <category lang=\"%s\">%s</category>\n", lang, escape(p.Category))
	}
	if p.Icon != "" {
		w.printf("    <icon src=\"%s\"/>\n", escape(p.Icon))
	}
	w.printf("  </programme>\n")
	return w.err
}

// WriteFooter closes the tv element.
func (w *Writer) WriteFooter() error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.printf("</tv>\n")
	return w.err
}

func escape(s string) string {
	var buf escapeBuffer
	_ = xml.EscapeText(&buf, []byte(s))
	return string(buf)
}

type escapeBuffer []byte

func (b *escapeBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
