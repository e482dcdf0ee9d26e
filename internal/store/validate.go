package store

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrSessionNotFound = errors.New("session not found")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateSession checks a session against the stored schema.
func ValidateSession(s *PdfSession) error {
	if s == nil {
		return fmt.Errorf("%w: nil session", ErrValidation)
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if s.AnalysisData != nil {
		if err := validateAnalysis(s.AnalysisData); err != nil {
			return err
		}
	}
	return nil
}

// validateAnalysis covers the union-typed bodies the struct tags cannot reach.
func validateAnalysis(a *AnalysisData) error {
	var lines []ReferenceLine
	for _, s := range a.Summaries {
		lines = append(lines, s.Lines()...)
	}
	lines = append(lines, a.IssueLines()...)
	for i := range lines {
		if err := validate.Struct(&lines[i]); err != nil {
			return fmt.Errorf("%w: reference line: %v", ErrValidation, err)
		}
	}
	return nil
}
