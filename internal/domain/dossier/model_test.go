package dossier

import (
	"reflect"
	"testing"
)

func TestParseChoices(t *testing.T) {
	got := ParseChoices("1, Oui|2, Non")
	want := []Choice{{Index: "1", Label: "Oui"}, {Index: "2", Label: "Non"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseChoices = %v, want %v", got, want)
	}

	if ParseChoices("") != nil {
		t.Error("empty list should parse to nil")
	}

	// labels may themselves contain commas
	got = ParseChoices("1, Oui, tout à fait|2, Non")
	if len(got) != 2 || got[0].Label != "Oui, tout à fait" {
		t.Errorf("comma label parse = %v", got)
	}
}

func TestChoiceIndex(t *testing.T) {
	list := "1, Oui|2, Non"
	idx, ok := ChoiceIndex(list, "Non")
	if !ok || idx != "2" {
		t.Errorf("ChoiceIndex(Non) = %q/%v, want 2/true", idx, ok)
	}
	if _, ok := ChoiceIndex(list, "Peut-être"); ok {
		t.Error("unmapped value should not resolve")
	}
}

func TestChoiceRoundTrip(t *testing.T) {
	cl := ChoiceList{Name: "DLIST", Choices: []Choice{
		{Index: "1", Label: "Oui"},
		{Index: "2", Label: "Non"},
	}}
	serialized := cl.Serialize()
	if serialized != "1, Oui|2, Non" {
		t.Fatalf("Serialize = %q", serialized)
	}
	idx, ok := ChoiceIndex(serialized, "Oui")
	if !ok {
		t.Fatal("Oui not found")
	}
	for _, c := range ParseChoices(serialized) {
		if c.Index == idx && c.Label != "Oui" {
			t.Errorf("round trip broke: index %s maps to %s", idx, c.Label)
		}
	}
}

func TestEffectiveIDSynthesizesSeparator(t *testing.T) {
	it := Item{MCType: TypeSeparator, Line: "12"}
	if got := it.EffectiveID(); got != "SEC_12" {
		t.Errorf("EffectiveID = %q, want SEC_12", got)
	}
	it = Item{ID: "VAR100", MCType: TypeText, Line: "3"}
	if got := it.EffectiveID(); got != "VAR100" {
		t.Errorf("EffectiveID = %q, want VAR100", got)
	}
}

func TestHasDetailSheet(t *testing.T) {
	if !(Item{Detail: "FICHE_SUIVI"}).HasDetailSheet() {
		t.Error("FICHE_SUIVI should be a detail sheet")
	}
	if !(Item{Detail: "fiche_suivi"}).HasDetailSheet() {
		t.Error("marker match is case-insensitive")
	}
	if (Item{Detail: ""}).HasDetailSheet() {
		t.Error("empty detail is not a sheet")
	}
}

func TestItemMCRecordColumnOrder(t *testing.T) {
	it := Item{Site: "sls", DossierID: "DSP2", ID: "VAR1", MCType: TypeText}
	keys := it.MCRecord().Keys()
	if keys[0] != "SITE" || keys[len(keys)-1] != "LIST_VALUES" {
		t.Errorf("unexpected column layout: %v", keys)
	}
}
