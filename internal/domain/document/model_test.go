package document

import (
	"testing"
	"time"

	"github.com/mc2/mc2/internal/domain/dossier"
	"github.com/mc2/mc2/internal/domain/patient"
	"github.com/mc2/mc2/internal/platform/record"
)

const base = "http://docs.example/mc"

func testDoc(revision int) *Document {
	return &Document{
		ID:        "123456",
		PatientID: "78910",
		DossierID: "DSP2",
		Revision:  revision,
		Extension: ".pdf",
	}
}

func TestURLRevisionClamp(t *testing.T) {
	d := testDoc(3)

	tests := []struct {
		requested int
		want      string
	}{
		{3, base + "/78910/DSP2/123456_3.pdf"},
		{1, base + "/78910/DSP2/123456_1.pdf"},
		{5, base + "/78910/DSP2/123456_3.pdf"},  // above current clamps down
		{-1, base + "/78910/DSP2/123456_3.pdf"}, // below 1 clamps to current
		{0, base + "/78910/DSP2/123456_3.pdf"},
	}
	for _, tt := range tests {
		if got := d.URLForRevision(base, tt.requested); got != tt.want {
			t.Errorf("URLForRevision(%d) = %q, want %q", tt.requested, got, tt.want)
		}
	}

	if got, want := d.URL(base), base+"/78910/DSP2/123456_3.pdf"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestURLRevisionZeroMeansNoFile(t *testing.T) {
	d := testDoc(0)
	want := base + "/78910/DSP2/123456_.pdf"
	if got := d.URL(base); got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
	// the empty segment wins over any requested revision
	if got := d.URLForRevision(base, 2); got != want {
		t.Errorf("URLForRevision(2) = %q, want %q", got, want)
	}
}

func TestNewItemValueResolvesListIndex(t *testing.T) {
	item := dossier.Item{
		ID:         "VAR100",
		PageName:   "PAGE1",
		MCType:     dossier.TypeList,
		ListValues: "1, Oui|2, Non",
	}
	row := record.New()
	row.Set("NIPRO", "42")
	row.Set("NIP", "7")
	row.Set("VAR100", "Non")

	v := NewItemValue("DSP2", "sls", item, row)
	if v.Val != "Non" || v.ListIndex != "2" {
		t.Errorf("value = %q index = %q, want Non/2", v.Val, v.ListIndex)
	}

	row.Set("VAR100", "Peut-être")
	v = NewItemValue("DSP2", "sls", item, row)
	if v.ListIndex != "" {
		t.Errorf("unmapped value should leave index empty, got %q", v.ListIndex)
	}
}

func TestMCRecordLayout(t *testing.T) {
	d := testDoc(1)
	d.Type = "Cr de CS"
	d.CreatedAt = time.Date(2019, 4, 1, 0, 0, 0, 0, time.UTC)
	d.UpdatedAt = time.Date(2019, 4, 2, 0, 0, 0, 0, time.UTC)
	d.Patient = &patient.Patient{ID: "78910", IPP: "800123", LastName: "MARTIN", FirstName: "JEANNE", Sex: "F"}
	d.Values = []ItemValue{{Var: "VAR1", Val: "x"}}

	items := []dossier.Item{{ID: "VAR1"}, {ID: "VAR2"}}
	r := d.MCRecord(items, base)

	keys := r.Keys()
	if keys[0] != "NIPRO" || keys[1] != "IPP" {
		t.Errorf("leading columns = %v", keys[:2])
	}
	if got := r.Value("VAR1"); got != "x" {
		t.Errorf("VAR1 = %q", got)
	}
	if v, ok := r.Get("VAR2"); !ok || v != "" {
		t.Errorf("VAR2 should be present and empty, got %q/%v", v, ok)
	}
	if r.Value("DATE_EXAM") != "2019-04-01" {
		t.Errorf("DATE_EXAM = %q", r.Value("DATE_EXAM"))
	}
	if r.Value("URL_DOC") == "" {
		t.Error("URL_DOC missing")
	}
}

func TestCleanText(t *testing.T) {
	in := "ligne1<br>ligne2\r\n<b>gras</b> &amp; fin"
	want := "ligne1 ligne2 gras & fin"
	if got := CleanText(in); got != want {
		t.Errorf("CleanText = %q, want %q", got, want)
	}
}
