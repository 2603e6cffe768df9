package middlecare

import (
	"fmt"
	"testing"

	"github.com/mc2/mc2/internal/domain/dossier"
	"github.com/mc2/mc2/internal/platform/record"
)

func makeItems(n int) []dossier.Item {
	items := make([]dossier.Item, n)
	for i := range items {
		items[i] = dossier.Item{ID: fmt.Sprintf("VAR%d", i), PageName: "PAGE1"}
	}
	return items
}

func TestChunkItems(t *testing.T) {
	chunks := ChunkItems(makeItems(450), 200)
	if len(chunks) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 200 || len(chunks[1]) != 200 || len(chunks[2]) != 50 {
		t.Errorf("chunk sizes = %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if chunks[2][49].ID != "VAR449" {
		t.Errorf("order not preserved: last item = %s", chunks[2][49].ID)
	}
	if ChunkItems(nil, 200) != nil {
		t.Error("empty input should yield no chunks")
	}
}

func docRow(id string, pairs ...string) *record.Record {
	r := record.New()
	r.Set("NIPRO", id)
	for i := 0; i < len(pairs); i += 2 {
		r.Set(pairs[i], pairs[i+1])
	}
	return r
}

func TestMergeByDocumentID(t *testing.T) {
	merged := MergeByDocumentID([][]*record.Record{
		{docRow("1", "VAR1", "a"), docRow("2", "VAR1", "b")},
		{docRow("1", "VAR2", "x"), docRow("2", "VAR2", "y")},
	})
	if len(merged) != 2 {
		t.Fatalf("merged row count = %d, want 2", len(merged))
	}
	first := merged[0]
	if first.Value("NIPRO") != "1" || first.Value("VAR1") != "a" || first.Value("VAR2") != "x" {
		t.Errorf("row 1 = %v", first.Keys())
	}
}

// A split extraction must yield the same rows as a single-query extraction:
// chunking is purely a width workaround.
func TestMergeMatchesUnchunked(t *testing.T) {
	full := []*record.Record{
		docRow("1", "VAR1", "a", "VAR2", "x", "VAR3", "m"),
		docRow("2", "VAR1", "b", "VAR2", "y", "VAR3", "n"),
	}
	split := [][]*record.Record{
		{docRow("1", "VAR1", "a"), docRow("2", "VAR1", "b")},
		{docRow("1", "VAR2", "x"), docRow("2", "VAR2", "y")},
		{docRow("1", "VAR3", "m"), docRow("2", "VAR3", "n")},
	}
	merged := MergeByDocumentID(split)
	for i, want := range full {
		got := merged[i]
		for _, k := range want.Keys() {
			if got.Value(k) != want.Value(k) {
				t.Errorf("row %d col %s = %q, want %q", i, k, got.Value(k), want.Value(k))
			}
		}
	}
}

// Documents missing from a chunk still come out with the full column set,
// the absent cells empty.
func TestMergeFillsGaps(t *testing.T) {
	merged := MergeByDocumentID([][]*record.Record{
		{docRow("1", "VAR1", "a")},
		{docRow("1", "VAR2", "x"), docRow("2", "VAR2", "y")},
	})
	if len(merged) != 2 {
		t.Fatalf("merged row count = %d, want 2", len(merged))
	}
	late := merged[1]
	if v, ok := late.Get("VAR1"); !ok || v != "" {
		t.Errorf("gap cell = %q (present=%v), want empty present", v, ok)
	}
	if len(late.Keys()) != len(merged[0].Keys()) {
		t.Errorf("column sets differ: %v vs %v", merged[0].Keys(), late.Keys())
	}
}
