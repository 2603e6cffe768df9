package redcap

import (
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mc2/mc2/internal/platform/record"
)

func mirrorRow(ipp, nipro string, extra ...string) *record.Record {
	r := record.New()
	r.Set("IPP", ipp)
	r.Set("NIP", "nip-"+ipp)
	r.Set("NOM", "DUPONT")
	r.Set("PRENOM", "JEAN")
	r.Set("DATNAI", "1960-01-02")
	r.Set("SEXE", "M")
	r.Set("NIPRO", nipro)
	r.Set("TYPE_EXAM", "CR Consult")
	for i := 0; i < len(extra); i += 2 {
		r.Set(extra[i], extra[i+1])
	}
	return r
}

func TestFlatRowsAlignedOnDictionary(t *testing.T) {
	d := testDictionary(false)
	b := NewRowBuilder(d, zerolog.Nop())

	rows := b.Flat([]*record.Record{mirrorRow("100", "1", "CHOIX", "Oui")})
	if len(rows) != 1 {
		t.Fatalf("row count = %d", len(rows))
	}
	got := rows[0]
	wantCols := d.ColumnNames()
	if len(got.Keys()) != len(wantCols) {
		t.Fatalf("column count = %d, want %d", len(got.Keys()), len(wantCols))
	}
	if got.Value("ipp") != "100" || got.Value("choix") != "1" {
		t.Errorf("row = %v", got.Keys())
	}
	// columns absent from the source come out empty
	if v, ok := got.Get("texte"); !ok || v != "" {
		t.Errorf("texte = %q (present=%v)", v, ok)
	}
}

func TestLongitudinalSharedRowPerPatient(t *testing.T) {
	b := NewRowBuilder(testDictionary(false), zerolog.Nop())

	rows := b.Longitudinal([]*record.Record{
		mirrorRow("100", "1"),
		mirrorRow("100", "2"),
		mirrorRow("200", "3"),
	})
	// one shared row per patient plus one row per document
	if len(rows) != 5 {
		t.Fatalf("row count = %d, want 5", len(rows))
	}

	shared := rows[0]
	if shared.Value(ColumnEventName) != "inclusion_arm_1" {
		t.Errorf("shared event = %q", shared.Value(ColumnEventName))
	}
	if shared.Value("nom") != "DUPONT" || shared.Value("ipp") != "100" {
		t.Errorf("shared identity = %q/%q", shared.Value("ipp"), shared.Value("nom"))
	}
	if shared.Value(ColumnRepeatInstance) != "" {
		t.Errorf("shared repeat instance = %q, want empty", shared.Value(ColumnRepeatInstance))
	}
	if shared.Value("nipro") != "0" {
		t.Errorf("shared data cell = %q, want zero fill", shared.Value("nipro"))
	}
	// completion flags start out blank, unlike the zero-filled data cells
	for _, col := range []string{"shared_complete", "dsp2_complete"} {
		if got := shared.Value(col); got != "" {
			t.Errorf("%s = %q, want empty", col, got)
		}
	}
}

func TestLongitudinalRepeatInstancesMonotonic(t *testing.T) {
	b := NewRowBuilder(testDictionary(false), zerolog.Nop())

	rows := b.Longitudinal([]*record.Record{
		mirrorRow("100", "1"),
		mirrorRow("100", "2"),
		mirrorRow("100", "3"),
	})
	if len(rows) != 4 {
		t.Fatalf("row count = %d, want 4", len(rows))
	}
	for i, row := range rows[1:] {
		if got := row.Value(ColumnRepeatInstance); got != strconv.Itoa(i+1) {
			t.Errorf("instance %d = %q", i+1, got)
		}
		if row.Value(ColumnEventName) != "documents_arm_1" {
			t.Errorf("event = %q", row.Value(ColumnEventName))
		}
		// identity lives on the shared event only
		if row.Value("nom") != "" {
			t.Errorf("document row carries identity: %q", row.Value("nom"))
		}
		if row.Value("ipp") != "100" {
			t.Errorf("record id = %q", row.Value("ipp"))
		}
		// the repeat instrument column stays blank on document rows
		if got := row.Value(ColumnRepeatInstrument); got != "" {
			t.Errorf("repeat instrument = %q, want empty", got)
		}
	}
}

func TestLongitudinalColumnLayout(t *testing.T) {
	b := NewRowBuilder(testDictionary(false), zerolog.Nop())
	cols := b.longitudinalColumns()

	want := []string{"ipp", ColumnEventName, ColumnRepeatInstrument, ColumnRepeatInstance, "nip", "nom", "prenom", "datnai", "sexe"}
	for i, w := range want {
		if cols[i] != w {
			t.Fatalf("column %d = %q, want %q", i, cols[i], w)
		}
	}
	if cols[len(cols)-2] != "shared_complete" || cols[len(cols)-1] != "dsp2_complete" {
		t.Errorf("completion columns = %v", cols[len(cols)-2:])
	}
}

func TestLongitudinalEventPerDocumentType(t *testing.T) {
	p := testProject(true)
	p.EventAsDocumentType = true
	d := BuildDictionary(p, "DSP2", nil, nil)
	b := NewRowBuilder(d, zerolog.Nop())

	rows := b.Longitudinal([]*record.Record{mirrorRow("100", "1")})
	doc := rows[1]
	if got := doc.Value(ColumnEventName); got != "cr_consult_arm_1" {
		t.Errorf("event = %q, want document type event", got)
	}
}
