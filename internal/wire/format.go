package wire

import (
	"fmt"
	"io"
	"strings"
)

// Format names one of the three calendar encodings.
type Format string

const (
	FormatText Format = "text"
	FormatXML  Format = "xml"
	FormatJSON Format = "json"
)

// ParseFormat accepts the short names and the usual media types.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "ics", "ical", "icalendar", "text/calendar":
		return FormatText, nil
	case "xml", "xcal", "application/calendar+xml":
		return FormatXML, nil
	case "json", "jcal", "application/calendar+json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown calendar format %q", s)
}

// ContentType is the media type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatXML:
		return "application/calendar+xml; charset=utf-8"
	case FormatJSON:
		return "application/calendar+json; charset=utf-8"
	default:
		return "text/calendar; charset=utf-8"
	}
}

// Decode reads a calendar in format f.
func Decode(r io.Reader, f Format) (*Calendar, error) {
	switch f {
	case FormatXML:
		return DecodeXML(r)
	case FormatJSON:
		return DecodeJSON(r)
	default:
		return DecodeText(r)
	}
}

// Encode writes cal in format f.
func Encode(w io.Writer, cal *Calendar, f Format) error {
	switch f {
	case FormatXML:
		return EncodeXML(w, cal)
	case FormatJSON:
		return EncodeJSON(w, cal)
	default:
		return EncodeText(w, cal)
	}
}
