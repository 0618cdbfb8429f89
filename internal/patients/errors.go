package patients

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicatePatient is returned when a patient ID is already in the sheet.
var ErrDuplicatePatient = errors.New("patients: patient ID already exists")

// FieldProblem describes one invalid field.
type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of a record.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = fmt.Sprintf("%s %s", p.Field, p.Message)
	}
	return "patients: invalid record: " + strings.Join(parts, "; ")
}
