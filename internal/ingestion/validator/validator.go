// Package validator checks submitted content before anything is published.
// It returns per-field error details; no length limits are imposed here.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
)

// ValidationError holds per-field validation failure messages. It matches
// apperrors.ErrInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidInput }

// ValidateContent requires title, text and author to be non-blank.
func ValidateContent(in *ingestion.ContentInput) error {
	errs := make(map[string]string)
	checkContent(in, "", errs)
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateBulk rejects an empty list and reports field errors per item as
// items[i].field.
func ValidateBulk(items []ingestion.ContentInput) error {
	errs := make(map[string]string)
	if len(items) == 0 {
		errs["items"] = "at least one item is required"
	}
	for i := range items {
		checkContent(&items[i], fmt.Sprintf("items[%d].", i), errs)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func checkContent(in *ingestion.ContentInput, prefix string, errs map[string]string) {
	if strings.TrimSpace(in.Title) == "" {
		errs[prefix+"title"] = "title is required"
	}
	if strings.TrimSpace(in.Text) == "" {
		errs[prefix+"text"] = "text is required"
	}
	if strings.TrimSpace(in.Author) == "" {
		errs[prefix+"author"] = "author is required"
	}
}
