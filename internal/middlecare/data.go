package middlecare

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mc2/mc2/internal/domain/dossier"
	"github.com/mc2/mc2/internal/platform/record"
)

// documentColumns is the fixed prefix of every data row, before the
// per-dossier item columns.
const documentColumns = `IP.NIP, I.IPP, I.NOM, I.PRENOM, I.DATNAI, I.SEXE,
	C.INTNIPRO AS NIPRO, C.LIBEXAM AS TYPE_EXAM, C.VENUE, C.AGE, C.POIDS, C.TAILLE,
	C.DATEXAM AS DATE_EXAM, C.DATEPUB AS DATE_MAJ, C.OPER, C.REVISION,
	C.EXTENSION, C.CR_PROVISOIRE, C.CATEG, C.SERVICE`

// Data extracts the document rows of a window, one ordered record per
// document, with one column per requested item. Item sets beyond
// MaxItemsPerQuery are fetched in chunks and the partial rows merged back by
// document id.
func (c *Catalog) Data(ctx context.Context, dossierID string, start, end time.Time, items []dossier.Item, category string, dateUpdate bool) ([]*record.Record, error) {
	chunks := ChunkItems(items, MaxItemsPerQuery)
	if len(chunks) == 0 {
		chunks = [][]dossier.Item{nil}
	}

	parts := make([][]*record.Record, 0, len(chunks))
	for _, chunk := range chunks {
		where := c.windowClause(dossierID, start, end, category, dateUpdate)
		rows, err := c.queryData(ctx, dossierID, chunk, where)
		if err != nil {
			return nil, err
		}
		parts = append(parts, rows)
	}
	merged := MergeByDocumentID(parts)
	c.log.Debug().Str("dossier_id", dossierID).
		Time("start", start).Time("end", end).
		Int("document_count", len(merged)).Msg("extracted window data")
	return merged, nil
}

// DataForDocument extracts the row of one document.
func (c *Catalog) DataForDocument(ctx context.Context, dossierID, documentID string, items []dossier.Item) ([]*record.Record, error) {
	chunks := ChunkItems(items, MaxItemsPerQuery)
	if len(chunks) == 0 {
		chunks = [][]dossier.Item{nil}
	}

	where := fmt.Sprintf("C.INTNIPRO = '%s'", documentID)
	parts := make([][]*record.Record, 0, len(chunks))
	for _, chunk := range chunks {
		rows, err := c.queryData(ctx, dossierID, chunk, where)
		if err != nil {
			return nil, err
		}
		parts = append(parts, rows)
	}
	return MergeByDocumentID(parts), nil
}

func (c *Catalog) windowClause(dossierID string, start, end time.Time, category string, dateUpdate bool) string {
	dateCol := "C.DATEXAM"
	if dateUpdate {
		dateCol = "C.DATEPUB"
	}
	clause := fmt.Sprintf(`C.CDPROD = '%s'
		AND %s >= to_date('%s','DD-MM-YYYY')
		AND %s < to_date('%s','DD-MM-YYYY')
		AND C.REVISION > 0`,
		dossierID, dateCol, start.Format(oracleDateFormat), dateCol, end.Format(oracleDateFormat))
	if category != "" {
		clause += fmt.Sprintf(" AND C.CATEG = '%s'", category)
	}
	return clause
}

// queryData builds and runs one dynamic data query. Each page hosting a
// requested item becomes a LEFT JOIN on its per-dossier table, restricted to
// rows actually written (DT_MAJ set).
func (c *Catalog) queryData(ctx context.Context, dossierID string, items []dossier.Item, where string) ([]*record.Record, error) {
	selects := []string{documentColumns}
	joins := []string{}

	pageAlias := map[string]string{}
	for _, it := range items {
		if it.ID == "" {
			continue // separators carry no data column
		}
		page := strings.ToUpper(it.PageName)
		alias, ok := pageAlias[page]
		if !ok {
			alias = fmt.Sprintf("pg%d", len(pageAlias))
			pageAlias[page] = alias
			joins = append(joins, fmt.Sprintf(
				"LEFT JOIN %s.%s %s ON %s.NIPRO = C.INTNIPRO AND %s.DT_MAJ IS NOT NULL",
				dossierID, page, alias, alias, alias))
		}
		selects = append(selects, fmt.Sprintf("%s.%s AS %s", alias, it.ID, it.ID))
	}

	query := fmt.Sprintf(`SELECT %s
		FROM MIDDLECARE.INCLUSION I
		INNER JOIN MIDDLECARE.INCLUSION_PROCEDURE IP ON IP.INTINCL = I.INTINCL
		INNER JOIN MIDDLECARE.INCLUSION_ETB IE ON IE.INTINCL = I.INTINCL
		INNER JOIN MIDDLECARE.CONSULTATION C ON C.INTINCLPROD = IP.INTINCLPROD
		%s
		WHERE %s
		ORDER BY IP.NIP`,
		strings.Join(selects, ",\n\t\t"), strings.Join(joins, "\n\t\t"), where)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("data of %s: %w", dossierID, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// scanRecords reads every row into an ordered record keyed by the query's
// own column names.
func scanRecords(rows *sql.Rows) ([]*record.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []*record.Record
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		r := record.New()
		for i, col := range cols {
			r.Set(col, vals[i].String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ChunkItems splits items into slices of at most max entries, preserving
// order.
func ChunkItems(items []dossier.Item, max int) [][]dossier.Item {
	if len(items) == 0 {
		return nil
	}
	var chunks [][]dossier.Item
	for start := 0; start < len(items); start += max {
		end := start + max
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// MergeByDocumentID folds partial rows from chunked queries back into one
// row per document. The first chunk fixes the row order; documents seen only
// in later chunks are appended. Every merged row ends up with the union of
// all columns, missing cells empty.
func MergeByDocumentID(parts [][]*record.Record) []*record.Record {
	if len(parts) == 0 {
		return nil
	}
	if len(parts) == 1 {
		return parts[0]
	}

	var merged []*record.Record
	byID := map[string]*record.Record{}
	for _, part := range parts {
		for _, row := range part {
			id := row.Value("NIPRO")
			if base, ok := byID[id]; ok {
				base.Merge(row)
				continue
			}
			byID[id] = row
			merged = append(merged, row)
		}
	}

	// align every row on the union of columns
	var columns []string
	seen := map[string]bool{}
	for _, row := range merged {
		for _, k := range row.Keys() {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	for i, row := range merged {
		merged[i] = row.Reorder(columns)
	}
	return merged
}
