package redcap

import (
	"strconv"

	"github.com/rs/zerolog"

	"github.com/mc2/mc2/internal/platform/record"
)

// RowBuilder turns transcoded rows into importable RedCap records, flat or
// longitudinal. Input rows must arrive in a stable order (the mirror orders
// them by creation date then document id); longitudinal repeat instances are
// numbered from that order, one counter per patient.
type RowBuilder struct {
	dict *Dictionary
	tr   *Transcoder
}

func NewRowBuilder(dict *Dictionary, log zerolog.Logger) *RowBuilder {
	return &RowBuilder{dict: dict, tr: NewTranscoder(dict, log)}
}

// Flat transcodes rows and aligns them on the dictionary's column set.
func (b *RowBuilder) Flat(rows []*record.Record) []*record.Record {
	columns := b.dict.ColumnNames()
	out := make([]*record.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, b.tr.Row(row).Reorder(columns))
	}
	return out
}

// recordIDColumn is the first identity variable, used as the RedCap record
// id.
const recordIDColumn = "ipp"

// Longitudinal builds the event-based import rows: per patient one shared
// identity row on the non-repeating event, then one row per document on the
// repeating event with a monotonically increasing repeat instance.
func (b *RowBuilder) Longitudinal(rows []*record.Record) []*record.Record {
	columns := b.longitudinalColumns()

	var out []*record.Record
	instance := map[string]int{}
	for _, row := range rows {
		documentType := row.Value("TYPE_EXAM")
		tr := b.transcodeFor(row, documentType)
		ipp := tr.Value(recordIDColumn)

		if _, seen := instance[ipp]; !seen {
			out = append(out, b.sharedRow(columns, tr))
		}
		instance[ipp]++

		doc := record.New()
		doc.Set(recordIDColumn, ipp)
		doc.Set(ColumnEventName, b.repeatableEventName(documentType))
		doc.Set(ColumnRepeatInstrument, "")
		doc.Set(ColumnRepeatInstance, strconv.Itoa(instance[ipp]))
		doc.Merge(tr)
		// the identity block belongs to the shared event only
		for _, col := range columns[4 : 4+SharedVariableCount] {
			doc.Set(col, "")
		}
		out = append(out, doc.Reorder(columns))
	}
	return out
}

// sharedRow emits the patient identity row: record id and the shared
// variables carried over, the data cells zero-filled, the completion flags
// left empty.
func (b *RowBuilder) sharedRow(columns []string, tr *record.Record) *record.Record {
	shared := record.New()
	for _, col := range columns {
		shared.Set(col, "0")
	}
	for _, col := range b.completeColumns() {
		shared.Set(col, "")
	}
	shared.Set(recordIDColumn, tr.Value(recordIDColumn))
	shared.Set(ColumnEventName, b.dict.Project.UniqueSharedEventName())
	shared.Set(ColumnRepeatInstrument, "")
	shared.Set(ColumnRepeatInstance, "")
	for _, col := range columns[4 : 4+SharedVariableCount] {
		shared.Set(col, tr.Value(col))
	}
	return shared
}

func (b *RowBuilder) transcodeFor(row *record.Record, documentType string) *record.Record {
	if b.dict.Project.EventAsDocumentType {
		return b.tr.RowForType(row, documentType)
	}
	return b.tr.Row(row)
}

func (b *RowBuilder) repeatableEventName(documentType string) string {
	if b.dict.Project.EventAsDocumentType {
		return uniqueEventName(documentType, b.dict.Project.ArmName)
	}
	return b.dict.Project.UniqueRepeatableEventName()
}

// longitudinalColumns is the import layout: record id, the three reserved
// event columns, the dictionary columns and one completion column per
// instrument.
func (b *RowBuilder) longitudinalColumns() []string {
	data := b.dict.ColumnNames()
	completes := b.completeColumns()
	columns := make([]string, 0, len(data)+3+len(completes))
	columns = append(columns, data[0], ColumnEventName, ColumnRepeatInstrument, ColumnRepeatInstance)
	columns = append(columns, data[1:]...)
	columns = append(columns, completes...)
	return columns
}

func (b *RowBuilder) completeColumns() []string {
	forms := b.dict.FormNames()
	out := make([]string, 0, len(forms))
	for _, form := range forms {
		out = append(out, CompleteColumn(form))
	}
	return out
}
