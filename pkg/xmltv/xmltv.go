// Package xmltv writes XMLTV guide documents.
package xmltv

import "time"

// Channel is one XMLTV channel definition.
type Channel struct {
	ID          string
	DisplayName string
	Icon        string
	URL         string
}

// Programme is one XMLTV programme entry.
type Programme struct {
	Start       time.Time
	Stop        time.Time
	Channel     string
	Title       string
	SubTitle    string
	Description string
	Category    string
	Icon        string
	Language    string
}

// FormatTime renders a time in XMLTV format: "20060102150405 +0000".
func FormatTime(t time.Time) string {
	return t.UTC().Format("20060102150405 +0000")
}
