package router

import (
	"encoding/json"
	"unicode/utf8"
)

const (
	// maxResponseBytes caps the serialized response body a routed call may
	// carry back; larger bodies are replaced by a marker.
	maxResponseBytes = 10 * 1024
	// previewChars is how much of an oversized body the marker retains.
	previewChars = 1000
)

// TruncatedBody replaces a response body whose serialized form exceeds the
// cap. The same marker is logged and returned to the caller.
type TruncatedBody struct {
	Truncated bool   `json:"truncated"`
	Size      int    `json:"size"`
	Preview   string `json:"preview"`
}

// capBody enforces the response size cap. It returns the payload to hand to
// the caller and a short preview string for the usage log. Data that cannot
// be serialized passes through untouched; the HTTP encoder will surface the
// problem.
func capBody(data any) (any, string) {
	raw, err := json.Marshal(data)
	if err != nil {
		return data, ""
	}
	if len(raw) <= maxResponseBytes {
		return data, clip(string(raw), previewChars)
	}
	marker := TruncatedBody{
		Truncated: true,
		Size:      len(raw),
		Preview:   clip(string(raw), previewChars),
	}
	return marker, marker.Preview
}

// clip trims s to at most n bytes without splitting a multi-byte rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
