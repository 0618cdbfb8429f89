package patients

import (
	"errors"
	"strings"
	"testing"
)

func validRecord(id string) Record {
	return Record{
		PatientID:      id,
		Name:           "Asha Rao",
		Age:            "42",
		Gender:         "Female",
		Phone:          "555-0101",
		Location:       "Pune",
		Prescription:   "Metformin",
		Dose:           "500mg",
		VisitDate:      "2024-03-01",
		PhysicianName:  "Dr. Mehta",
		PhysicianID:    "D-7",
		PhysicianPhone: "555-0199",
		Bill:           "120",
	}
}

func TestRowRoundTrip(t *testing.T) {
	rec := validRecord("P1")
	rec.Address = "12 Hill Rd"
	row := rec.Row()
	if len(row) != len(Header) {
		t.Fatalf("expected %d cells, got %d", len(Header), len(row))
	}
	if row[0] != "P1" || row[3] != "Female" || row[14] != "120" {
		t.Fatalf("unexpected column order %v", row)
	}
	if got := FromRow(row); got != rec {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestFromRowShortRow(t *testing.T) {
	got := FromRow([]string{"P1", "Ann"})
	if got.PatientID != "P1" || got.Name != "Ann" || got.Bill != "" {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
		fields []string
	}{
		{name: "valid", mutate: func(*Record) {}},
		{name: "optional fields empty", mutate: func(r *Record) { r.Address, r.NextVisit = "", "" }},
		{name: "missing name", mutate: func(r *Record) { r.Name = " " }, fields: []string{"name"}},
		{name: "negative age", mutate: func(r *Record) { r.Age = "-1" }, fields: []string{"age"}},
		{name: "non numeric age", mutate: func(r *Record) { r.Age = "forty" }, fields: []string{"age"}},
		{name: "bad gender", mutate: func(r *Record) { r.Gender = "male" }, fields: []string{"gender"}},
		{name: "several", mutate: func(r *Record) { r.PatientID, r.Bill = "", "" }, fields: []string{"patient_id", "bill"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord("P1")
			tt.mutate(&rec)
			err := rec.Validate()
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var got []string
			for _, p := range verr.Problems {
				got = append(got, p.Field)
			}
			if strings.Join(got, ",") != strings.Join(tt.fields, ",") {
				t.Fatalf("problems = %v, want %v", got, tt.fields)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	rec := validRecord("P-100")
	for _, term := range []string{"", "p-1", "ASHA", "0101", "pune", "metf", "mehta"} {
		if !rec.Matches(term) {
			t.Errorf("expected %q to match", term)
		}
	}
	for _, term := range []string{"500mg", "D-7", "zzz"} {
		if rec.Matches(term) {
			t.Errorf("expected %q not to match", term)
		}
	}
}

func TestTemplate(t *testing.T) {
	tmpl := Template()
	if tmpl.SheetTitle != "Patients" || len(tmpl.Header) != 15 {
		t.Fatalf("unexpected template %+v", tmpl)
	}
	tmpl.Header[0] = "changed"
	if Header[0] != "Patient ID" {
		t.Fatal("template must not alias Header")
	}
}
