// Package imageref classifies job image strings and decodes inline payloads.
package imageref

import (
	"encoding/base64"
	"fmt"
	"strings"

	"relight/internal/domain"
)

const (
	schemeHTTP  = "http://"
	schemeHTTPS = "https://"
)

// Classify tags s as a URL when it literally starts with http:// or https://.
// Everything else, including the empty string, is inline data.
func Classify(s string) domain.ImageRef {
	if strings.HasPrefix(s, schemeHTTP) || strings.HasPrefix(s, schemeHTTPS) {
		return domain.ImageRef{Kind: domain.RefURL, Value: s}
	}
	return domain.ImageRef{Kind: domain.RefInline, Value: s}
}

// StripDataURI drops everything up to and including the first comma. Strings
// without a comma are returned unchanged.
func StripDataURI(s string) string {
	if _, payload, found := strings.Cut(s, ","); found {
		return payload
	}
	return s
}

// MIMEFromDataURI returns the media type of a data:<mime>;base64, prefix, or
// "" when s has no such prefix.
func MIMEFromDataURI(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return ""
	}
	header, _, found := strings.Cut(s, ",")
	if !found {
		return ""
	}
	header = strings.TrimPrefix(header, "data:")
	mime, _, _ := strings.Cut(header, ";")
	return strings.TrimSpace(mime)
}

// DecodeInline strips any data-URI prefix and decodes the base64 payload.
// Unpadded payloads are accepted. An empty payload is a decode error.
func DecodeInline(s string) ([]byte, error) {
	payload := strings.TrimSpace(StripDataURI(s))
	if payload == "" {
		return nil, fmt.Errorf("%w: empty base64 payload", domain.ErrDecode)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}
	if !strings.Contains(payload, "=") {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(payload); rawErr == nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid base64: %v", domain.ErrDecode, err)
}

// Extension picks a file extension for an image reference.
func Extension(ref string) string {
	if Classify(ref).Kind == domain.RefURL {
		return extensionFromURL(ref)
	}
	switch strings.ToLower(MIMEFromDataURI(ref)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func extensionFromURL(u string) string {
	path, _, _ := strings.Cut(u, "?")
	path, _, _ = strings.Cut(path, "#")
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx < strings.LastIndex(path, "/") {
		return ".png"
	}
	switch ext := strings.ToLower(path[idx:]); ext {
	case ".jpg", ".jpeg":
		return ".jpg"
	case ".png", ".webp":
		return ext
	default:
		return ".png"
	}
}
