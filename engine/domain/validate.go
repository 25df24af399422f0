package domain

import (
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

const minQueryLength = 3

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return NewValidationError("url", raw, ErrInvalidInput)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewValidationError("url", raw, ErrInvalidInput)
	}
	if u.Host == "" {
		return NewValidationError("url", raw, ErrInvalidInput)
	}
	return nil
}

// ValidateContentType rejects unknown content types.
func ValidateContentType(ct ContentType) error {
	if !ValidContentTypes[ct] {
		return NewValidationError("content_type", string(ct), ErrInvalidInput)
	}
	return nil
}

// ValidateID rejects non-positive identifiers.
func ValidateID(field string, id int64) error {
	if id <= 0 {
		return NewValidationError(field, strconv.FormatInt(id, 10), ErrInvalidInput)
	}
	return nil
}

// ValidateIngestRequest checks an IngestRequest before it enters the pipeline.
func ValidateIngestRequest(req IngestRequest) error {
	if err := ValidateID("business_id", req.BusinessID); err != nil {
		return err
	}
	if err := ValidateContentType(req.ContentType); err != nil {
		return err
	}
	return ValidateURL(req.URL)
}

// ValidateQuery checks a free-text strategist question.
func ValidateQuery(q string) error {
	text := strings.TrimSpace(q)
	if utf8.RuneCountInString(text) < minQueryLength {
		return NewValidationError("query", text, ErrInvalidInput)
	}
	return nil
}

// ValidateMissionStatus rejects unknown mission statuses.
func ValidateMissionStatus(s MissionStatus) error {
	if !ValidMissionStatuses[s] {
		return NewValidationError("status", string(s), ErrInvalidInput)
	}
	return nil
}

// HostName returns the URL host without a leading "www.".
func HostName(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
