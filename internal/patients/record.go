// Package patients maps patient records onto the rows of the Patients sheet.
package patients

import (
	"strconv"
	"strings"

	"github.com/wolfman30/patient-sheets/internal/sheets"
)

// SheetTitle is the worksheet that holds patient rows.
const SheetTitle = "Patients"

// A1 ranges used by the service. Row 1 is the header.
const (
	dataRange   = SheetTitle + "!A2:O"
	appendRange = SheetTitle + "!A2:O2"
	idRange     = SheetTitle + "!A2:A"
	firstRow    = 2
)

// Header is the fixed column layout, in order.
var Header = []string{
	"Patient ID",
	"Patient Name",
	"Age",
	"Gender",
	"Phone",
	"Location",
	"Address",
	"Prescription",
	"Dose",
	"Visit Date",
	"Next Visit",
	"Physician Name",
	"Physician ID",
	"Physician Phone",
	"Bill",
}

// Template returns the layout for newly created containers.
func Template() sheets.Template {
	return sheets.Template{SheetTitle: SheetTitle, Header: append([]string(nil), Header...)}
}

// Genders accepted by Validate.
var Genders = []string{"Male", "Female", "Other"}

// Record is one patient row. All values are kept as the text stored in the sheet.
type Record struct {
	PatientID      string `json:"patient_id"`
	Name           string `json:"name"`
	Age            string `json:"age"`
	Gender         string `json:"gender"`
	Phone          string `json:"phone"`
	Location       string `json:"location"`
	Address        string `json:"address,omitempty"`
	Prescription   string `json:"prescription"`
	Dose           string `json:"dose"`
	VisitDate      string `json:"visit_date"`
	NextVisit      string `json:"next_visit,omitempty"`
	PhysicianName  string `json:"physician_name"`
	PhysicianID    string `json:"physician_id"`
	PhysicianPhone string `json:"physician_phone"`
	Bill           string `json:"bill"`
}

// FromRow builds a Record from a sheet row. Missing trailing cells are empty.
func FromRow(row []string) Record {
	cell := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	return Record{
		PatientID:      cell(0),
		Name:           cell(1),
		Age:            cell(2),
		Gender:         cell(3),
		Phone:          cell(4),
		Location:       cell(5),
		Address:        cell(6),
		Prescription:   cell(7),
		Dose:           cell(8),
		VisitDate:      cell(9),
		NextVisit:      cell(10),
		PhysicianName:  cell(11),
		PhysicianID:    cell(12),
		PhysicianPhone: cell(13),
		Bill:           cell(14),
	}
}

// Row returns the record's cells in column order.
func (r Record) Row() []string {
	return []string{
		r.PatientID,
		r.Name,
		r.Age,
		r.Gender,
		r.Phone,
		r.Location,
		r.Address,
		r.Prescription,
		r.Dose,
		r.VisitDate,
		r.NextVisit,
		r.PhysicianName,
		r.PhysicianID,
		r.PhysicianPhone,
		r.Bill,
	}
}

// Normalize trims surrounding whitespace from every field.
func (r Record) Normalize() Record {
	row := r.Row()
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}
	return FromRow(row)
}

// Validate checks required fields, gender and age.
func (r Record) Validate() error {
	var problems []FieldProblem
	required := []struct {
		field string
		value string
	}{
		{"patient_id", r.PatientID},
		{"name", r.Name},
		{"age", r.Age},
		{"gender", r.Gender},
		{"phone", r.Phone},
		{"location", r.Location},
		{"prescription", r.Prescription},
		{"dose", r.Dose},
		{"visit_date", r.VisitDate},
		{"physician_name", r.PhysicianName},
		{"physician_id", r.PhysicianID},
		{"physician_phone", r.PhysicianPhone},
		{"bill", r.Bill},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			problems = append(problems, FieldProblem{Field: f.field, Message: "is required"})
		}
	}

	if age := strings.TrimSpace(r.Age); age != "" {
		if n, err := strconv.Atoi(age); err != nil || n < 0 {
			problems = append(problems, FieldProblem{Field: "age", Message: "must be a non-negative whole number"})
		}
	}
	if g := strings.TrimSpace(r.Gender); g != "" && !validGender(g) {
		problems = append(problems, FieldProblem{Field: "gender", Message: "must be one of Male, Female, Other"})
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Matches reports whether term occurs, case-insensitively, in the patient
// ID, name, phone, location, prescription or physician name.
func (r Record) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	for _, v := range []string{r.PatientID, r.Name, r.Phone, r.Location, r.Prescription, r.PhysicianName} {
		if strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}

func validGender(g string) bool {
	for _, v := range Genders {
		if g == v {
			return true
		}
	}
	return false
}
