package sheets

import "testing"

func TestColumnName(t *testing.T) {
	tests := map[int]string{0: "A", 1: "A", 15: "O", 26: "Z", 27: "AA", 52: "AZ", 703: "AAA"}
	for n, want := range tests {
		if got := ColumnName(n); got != want {
			t.Errorf("ColumnName(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestRowRange(t *testing.T) {
	if got := RowRange("Patients", 4, 15); got != "Patients!A4:O4" {
		t.Fatalf("got %q", got)
	}
	if got := RowRange("Clinic Q1", 1, 2); got != "'Clinic Q1'!A1:B1" {
		t.Fatalf("got %q", got)
	}
	if got := QuoteSheet("O'Brien"); got != "'O''Brien'" {
		t.Fatalf("got %q", got)
	}
}
