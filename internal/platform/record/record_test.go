package record

import (
	"reflect"
	"testing"
)

func TestSetPreservesInsertionOrder(t *testing.T) {
	r := New()
	r.Set("NIPRO", "1")
	r.Set("IPP", "a")
	r.Set("VAR1", "x")
	r.Set("IPP", "b") // overwrite keeps position

	want := []string{"NIPRO", "IPP", "VAR1"}
	if !reflect.DeepEqual(r.Keys(), want) {
		t.Errorf("Keys = %v, want %v", r.Keys(), want)
	}
	if got := r.Value("IPP"); got != "b" {
		t.Errorf("IPP = %q, want b", got)
	}
}

func TestMergeAppendsNewColumns(t *testing.T) {
	a := New()
	a.Set("NIPRO", "1")
	a.Set("VAR1", "x")

	b := New()
	b.Set("NIPRO", "1")
	b.Set("VAR2", "y")

	a.Merge(b)
	want := []string{"NIPRO", "VAR1", "VAR2"}
	if !reflect.DeepEqual(a.Keys(), want) {
		t.Errorf("Keys = %v, want %v", a.Keys(), want)
	}
	if a.Value("VAR2") != "y" {
		t.Errorf("VAR2 = %q, want y", a.Value("VAR2"))
	}
}

func TestReorderFillsMissingEmpty(t *testing.T) {
	r := New()
	r.Set("VAR2", "y")
	r.Set("VAR1", "x")

	out := r.Reorder([]string{"VAR1", "VAR2", "VAR3"})
	if !reflect.DeepEqual(out.Keys(), []string{"VAR1", "VAR2", "VAR3"}) {
		t.Errorf("Keys = %v", out.Keys())
	}
	if v, ok := out.Get("VAR3"); !ok || v != "" {
		t.Errorf("VAR3 = %q/%v, want empty present", v, ok)
	}
}
