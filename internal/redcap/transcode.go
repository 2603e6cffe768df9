package redcap

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/mc2/mc2/internal/domain/dossier"
	"github.com/mc2/mc2/internal/platform/record"
)

// multiValueSeparator joins the selected labels of a multi-choice value in
// the source.
const multiValueSeparator = "#"

// Transcoder rewrites mirror rows into RedCap import rows according to a
// dictionary: labels become choice indexes, multi-choice values expand to
// one column per choice and checkbox states become 0/1.
type Transcoder struct {
	dict *Dictionary
	log  zerolog.Logger
}

func NewTranscoder(dict *Dictionary, log zerolog.Logger) *Transcoder {
	return &Transcoder{dict: dict, log: log}
}

// Row transcodes one source row.
func (t *Transcoder) Row(row *record.Record) *record.Record {
	return t.row(row, "")
}

// RowForType transcodes one source row belonging to a document of the given
// type. Item columns land under their type-suffixed variable.
func (t *Transcoder) RowForType(row *record.Record, documentType string) *record.Record {
	return t.row(row, documentType)
}

func (t *Transcoder) row(row *record.Record, documentType string) *record.Record {
	out := record.New()
	for _, key := range row.Keys() {
		val := row.Value(key)
		name := CleanFieldName(key)

		f, ok := t.lookup(name, documentType)
		if !ok {
			out.Set(name, val)
			continue
		}

		switch f.FieldType {
		case FieldDescriptive:
			// section separators carry no data
		case FieldDropdown:
			out.Set(f.VariableName, t.choiceIndex(f, val))
		case FieldCheckbox:
			t.expandCheckbox(out, f, val)
		case FieldYesNo:
			out.Set(f.VariableName, t.yesNo(val))
		default:
			out.Set(f.VariableName, val)
		}
	}
	return out
}

// lookup resolves a source column to its dictionary field, trying the
// type-suffixed variable first when a document type is known.
func (t *Transcoder) lookup(name, documentType string) (Field, bool) {
	if documentType != "" {
		suffixed := name + "_" + CleanFieldName(documentType)
		for _, f := range t.dict.Fields {
			if f.VariableName == suffixed {
				return f, true
			}
		}
	}
	for _, f := range t.dict.Fields {
		if f.VariableName == name {
			return f, true
		}
	}
	return Field{}, false
}

func (t *Transcoder) choiceIndex(f Field, val string) string {
	if val == "" {
		return ""
	}
	idx, ok := dossier.ChoiceIndex(f.Choices, val)
	if !ok {
		t.log.Warn().Str("field", f.VariableName).Str("value", val).Msg("value not in choice list, dropped")
		return ""
	}
	return idx
}

// expandCheckbox always emits one 0/1 column per possible choice; blanks only
// appear in the longitudinal empty-fill regions, which the row builder
// overwrites wholesale.
func (t *Transcoder) expandCheckbox(out *record.Record, f Field, val string) {
	selected := map[string]bool{}
	for _, part := range strings.Split(val, multiValueSeparator) {
		if part != "" {
			selected[part] = true
		}
	}
	for _, c := range dossier.ParseChoices(f.Choices) {
		col := f.VariableName + "___" + strings.ToLower(c.Index)
		if selected[c.Label] {
			out.Set(col, "1")
		} else {
			out.Set(col, "0")
		}
	}
}

func (t *Transcoder) yesNo(val string) string {
	if strings.EqualFold(val, "on") {
		return "1"
	}
	return "0"
}
