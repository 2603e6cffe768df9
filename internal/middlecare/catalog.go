// Package middlecare reads dossier schemas and document data from the
// MiddleCare Oracle source. The schema itself is data: items and pages are
// discovered per dossier through introspection queries, so every result is
// carried as generic ordered records.
package middlecare

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mc2/mc2/internal/domain/dossier"
)

// MaxItemsPerQuery bounds the column count of one dynamic data query. Larger
// item sets are split and the partial rows merged back by document id.
const MaxItemsPerQuery = 200

const oracleDateFormat = "02-01-2006"

// Catalog discovers dossier dictionaries and extracts document data from one
// MiddleCare site. Source errors propagate as-is; retry policy belongs to
// the caller.
type Catalog struct {
	db   *sql.DB
	site string
	log  zerolog.Logger
}

func NewCatalog(db *sql.DB, site string, log zerolog.Logger) *Catalog {
	return &Catalog{db: db, site: site, log: log}
}

// DossierList returns every DSP dossier registered on the site.
func (c *Catalog) DossierList(ctx context.Context) ([]dossier.Dossier, error) {
	query := `SELECT CD_DOSSIER, NOM, DESCRIPTION, lower(SUBSTR(CD_HOP,1,3)), CD_UF
		FROM middlecare.DOSSIER
		WHERE CD_DOSSIER LIKE 'D%' ORDER BY CD_DOSSIER`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dossier list: %w", err)
	}
	defer rows.Close()

	var out []dossier.Dossier
	for rows.Next() {
		var d dossier.Dossier
		var hop sql.NullString
		if err := rows.Scan(&d.ID, &d.Name, &d.Label, &hop, &d.OrgUnit); err != nil {
			return nil, err
		}
		d.Site = c.site
		out = append(out, d)
	}
	return out, rows.Err()
}

// Pages returns the pages of a dossier, optionally restricted to one
// document type, ordered by (document type, display order).
func (c *Catalog) Pages(ctx context.Context, dossierID, documentType string) ([]dossier.Page, error) {
	query := fmt.Sprintf(`SELECT PROCEDURE, CHAPITRE, CD_PGE, ORDRE_LISTE
		FROM %s.CHAPITRE %s
		ORDER BY PROCEDURE, ORDRE_LISTE`, dossierID, whereDocumentType(documentType))
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pages of %s: %w", dossierID, err)
	}
	defer rows.Close()

	var out []dossier.Page
	for rows.Next() {
		var p dossier.Page
		var code sql.NullString
		if err := rows.Scan(&p.DocumentType, &p.Label, &code, &p.Order); err != nil {
			return nil, err
		}
		p.Code, _ = strconv.Atoi(code.String)
		p.Site = c.site
		p.DossierID = strings.ToUpper(dossierID)
		out = append(out, p)
	}
	return out, rows.Err()
}

func whereDocumentType(documentType string) string {
	if documentType == "" {
		return ""
	}
	return fmt.Sprintf("WHERE PROCEDURE = '%s'", documentType)
}

// Items discovers a dossier's item definitions: the base pass joins the
// per-page table columns with the BLOC/PAGE/NOM_OBJET metadata, a second
// pass pulls the items of every referenced detail sheet, and choice lists
// are resolved and serialized onto each item.
func (c *Catalog) Items(ctx context.Context, dossierID string, itemNames, pageNames []string) ([]dossier.Item, error) {
	base, err := c.baseItems(ctx, dossierID, itemNames, pageNames)
	if err != nil {
		return nil, err
	}

	// collect distinct detail-sheet markers from the base pass
	seen := map[string]bool{}
	var sheets []string
	for _, it := range base {
		if it.HasDetailSheet() && !seen[strings.ToUpper(it.Detail)] {
			seen[strings.ToUpper(it.Detail)] = true
			sheets = append(sheets, strings.ToUpper(it.Detail))
		}
	}
	sheetItems, err := c.detailSheetItems(ctx, dossierID, itemNames, sheets)
	if err != nil {
		return nil, err
	}
	items := append(base, sheetItems...)

	for i := range items {
		if items[i].ListName == "" {
			continue
		}
		list, err := c.ListValues(ctx, dossierID, items[i].ListName)
		if err != nil {
			return nil, err
		}
		items[i].ListValues = list.Serialize()
	}
	c.log.Debug().Str("dossier_id", dossierID).Int("item_count", len(items)).Msg("discovered dossier items")
	return items, nil
}

func (c *Catalog) baseItems(ctx context.Context, dossierID string, itemNames, pageNames []string) ([]dossier.Item, error) {
	query := fmt.Sprintf(`SELECT DISTINCT all_col.owner,
		upper(pag.NM_PGE), pag.LB_PGE, blc.NO_BLC, blc.NM_BLC, blc.LIGNE,
		all_col.column_name, all_col.data_type, blc.TP_OBJ,
		obj.lb_obj, blc.LB_OBJ, blc.LB_SECONDAIRE,
		upper(blc.DETAIL), blc.TYP_CRTL, blc.FORMULE, blc.OPTIONS, blc.LD_NOM
		FROM all_tab_columns all_col, %[1]s.NOM_OBJET obj, %[1]s.BLOC blc, %[1]s.PAGE pag
		WHERE all_col.owner = '%[1]s'
		AND upper(trim(all_col.COLUMN_NAME)) = upper(trim(blc.NM_OBJ))
		AND upper(trim(all_col.COLUMN_NAME)) = upper(trim(obj.NOM_OBJET))
		AND upper(pag.NM_PGE) = upper(all_col.table_name)
		%s %s
		ORDER BY 1, 2, 4, 6`,
		dossierID, inClause("all_col.column_name", itemNames), inClause("pag.NM_PGE", pageNames))
	return c.scanItems(ctx, dossierID, query)
}

func (c *Catalog) detailSheetItems(ctx context.Context, dossierID string, itemNames, sheets []string) ([]dossier.Item, error) {
	if len(sheets) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT DISTINCT all_col.owner,
		upper(blc.NOM_TABLE), blc.NM_FICHE, blc.NO_BLCD, blc.NM_BLCD, blc.LIGNED,
		upper(blc.NM_OBJD), all_col.data_type, blc.TP_OBJD,
		'', blc.LB_OBJD, blc.LB_SECONDAIRE,
		'', blc.TP_CRTL, blc.FORMULE, blc.OPTIONS, blc.LD_NOMD
		FROM all_tab_columns all_col, %[1]s.DETAIL blc
		WHERE all_col.owner = '%[1]s'
		AND upper(trim(all_col.COLUMN_NAME)) = upper(trim(blc.NM_OBJD))
		AND blc.NOM_TABLE <> 'detail_patient'
		%s %s
		ORDER BY 1, 2, 4, 6`,
		dossierID, inClause("all_col.column_name", itemNames), inClause("upper(blc.NOM_TABLE)", sheets))
	return c.scanItems(ctx, dossierID, query)
}

func (c *Catalog) scanItems(ctx context.Context, dossierID, query string) ([]dossier.Item, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("items of %s: %w", dossierID, err)
	}
	defer rows.Close()

	var out []dossier.Item
	for rows.Next() {
		var it dossier.Item
		cols := []*string{
			&it.DossierID, &it.PageName, &it.PageLabel, &it.BlockNo, &it.BlockName, &it.Line,
			&it.ID, &it.DataType, &it.MCType, &it.Label, &it.BlockLabel, &it.SecondaryLabel,
			&it.Detail, &it.ControlType, &it.Formula, &it.Options, &it.ListName,
		}
		nulls := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range nulls {
			dest[i] = &nulls[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, dst := range cols {
			*dst = nulls[i].String
		}
		it.Site = c.site
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListValues resolves a named choice list. Only list names starting with "D"
// exist as LISTE rows; anything else resolves to an empty list.
func (c *Catalog) ListValues(ctx context.Context, dossierID, listName string) (dossier.ChoiceList, error) {
	list := dossier.ChoiceList{Name: listName}
	if !strings.HasPrefix(listName, "D") {
		list.Description = listName
		return list, nil
	}
	query := fmt.Sprintf(`SELECT DESCRIPTION, LB_ITM, NO_ITM, DEFAUT
		FROM %s.LISTE WHERE NM_LD = '%s' ORDER BY NO_ITM`, dossierID, listName)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return list, fmt.Errorf("list values %s: %w", listName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var desc, label, index, deflt sql.NullString
		if err := rows.Scan(&desc, &label, &index, &deflt); err != nil {
			return list, err
		}
		list.Description = desc.String
		list.Choices = append(list.Choices, dossier.Choice{
			Index:   index.String,
			Label:   label.String,
			Default: deflt.String == "1",
		})
	}
	return list, rows.Err()
}

// CategoriesOfPeriod lists the document categories present in a window. With
// dateUpdate set the window applies to the publication date instead of the
// exam date.
func (c *Catalog) CategoriesOfPeriod(ctx context.Context, dossierID string, start, end time.Time, dateUpdate bool) ([]string, error) {
	dateCol := "DATEXAM"
	if dateUpdate {
		dateCol = "DATEPUB"
	}
	query := fmt.Sprintf(`SELECT DISTINCT CATEG FROM MIDDLECARE.CONSULTATION
		WHERE CDPROD = '%s'
		AND %s >= to_date('%s','DD-MM-YYYY')
		AND %s < to_date('%s','DD-MM-YYYY')
		AND REVISION > 0`,
		dossierID, dateCol, start.Format(oracleDateFormat), dateCol, end.Format(oracleDateFormat))
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("categories of period: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var categ sql.NullString
		if err := rows.Scan(&categ); err != nil {
			return nil, err
		}
		out = append(out, categ.String)
	}
	return out, rows.Err()
}

// CategoryOfDocument returns the category of a single document.
func (c *Catalog) CategoryOfDocument(ctx context.Context, documentID string) (string, error) {
	var categ sql.NullString
	err := c.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT CATEG FROM MIDDLECARE.CONSULTATION WHERE INTNIPRO = '%s'`, documentID),
	).Scan(&categ)
	if err != nil {
		return "", fmt.Errorf("category of document %s: %w", documentID, err)
	}
	return categ.String, nil
}

// PageNamesForCategory returns the page tables feeding documents of the
// given category.
func (c *Catalog) PageNamesForCategory(ctx context.Context, dossierID, category string) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT URL FROM %[1]s.CHAPITRE
		WHERE PROCEDURE IN
		(SELECT DISTINCT LIBEXAM FROM MIDDLECARE.CONSULTATION
		WHERE CDPROD = '%[1]s' AND CR_PROVISOIRE = '0' AND CATEG = '%s')`, dossierID, category)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pages of category %s: %w", category, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name.String)
	}
	return out, rows.Err()
}

// ItemsForCategory discovers the items applicable to one document category.
func (c *Catalog) ItemsForCategory(ctx context.Context, dossierID, category string) ([]dossier.Item, error) {
	pages, err := c.PageNamesForCategory(ctx, dossierID, category)
	if err != nil {
		return nil, err
	}
	return c.Items(ctx, dossierID, nil, pages)
}

func inClause(column string, values []string) string {
	if len(values) == 0 {
		return ""
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + v + "'"
	}
	return fmt.Sprintf("AND %s IN (%s)", column, strings.Join(quoted, ","))
}
