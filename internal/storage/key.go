package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// UnassignedResponse is the key segment used when an upload is not yet bound
// to a survey response.
const UnassignedResponse = "unassigned"

// ErrInvalidKey reports a key that would escape its tenant prefix.
var ErrInvalidKey = errors.New("invalid storage key")

// KeyParts are the identifiers that make up an object key.
type KeyParts struct {
	TenantID   string
	SurveyID   string
	ResponseID string
	FieldID    string
	FileID     string
	Ext        string
}

// BuildKey returns {tenant}/surveys/{survey}/responses/{response}/{field}/{file}.{ext}.
// Every segment must be a single plain path element; anything containing a
// separator, a dot-dot or a control character is rejected.
func BuildKey(p KeyParts) (string, error) {
	response := p.ResponseID
	if response == "" {
		response = UnassignedResponse
	}
	segments := []struct{ name, value string }{
		{"tenant", p.TenantID},
		{"survey", p.SurveyID},
		{"response", response},
		{"field", p.FieldID},
		{"file", p.FileID},
	}
	for _, s := range segments {
		if err := validSegment(s.value); err != nil {
			return "", fmt.Errorf("%w: %s segment: %v", ErrInvalidKey, s.name, err)
		}
	}
	name := p.FileID
	if ext := strings.TrimPrefix(strings.ToLower(p.Ext), "."); ext != "" {
		if err := validSegment(ext); err != nil || strings.Contains(ext, ".") {
			return "", fmt.Errorf("%w: extension %q", ErrInvalidKey, p.Ext)
		}
		name += "." + ext
	}
	key := path.Join(p.TenantID, "surveys", p.SurveyID, "responses", response, p.FieldID, name)
	return key, nil
}

// ThumbnailKey derives the thumbnail location from the original key by
// swapping its extension for _thumb.jpg.
func ThumbnailKey(key string) string {
	ext := path.Ext(key)
	return strings.TrimSuffix(key, ext) + "_thumb.jpg"
}

// CleanKey validates a key received from outside (for example a URL path)
// and returns it in canonical form.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(cleaned, "/") {
		if err := validSegment(part); err != nil {
			return "", ErrInvalidKey
		}
	}
	return cleaned, nil
}

func validSegment(s string) error {
	switch {
	case s == "":
		return errors.New("empty")
	case s == "." || s == "..":
		return errors.New("relative element")
	case len(s) > 255:
		return errors.New("too long")
	}
	for _, r := range s {
		if r == '/' || r == '\\' || r < 0x20 || r == 0x7f {
			return fmt.Errorf("illegal character %q", r)
		}
	}
	return nil
}
