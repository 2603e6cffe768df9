package dossier

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) UpsertDossier(ctx context.Context, d *Dossier) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dossier (dossier_id, site, nom, libelle, uhs, version)
		VALUES ($1,$2,$3,$4,$5,1)
		ON CONFLICT (dossier_id, site) DO UPDATE SET
			nom = EXCLUDED.nom,
			libelle = EXCLUDED.libelle,
			uhs = EXCLUDED.uhs,
			version = dossier.version + 1`,
		d.ID, d.Site, d.Name, d.Label, d.OrgUnit,
	)
	if err != nil {
		return fmt.Errorf("upsert dossier %s: %w", d.ID, err)
	}
	return nil
}

const dossierCols = `dossier_id, site, nom, libelle, uhs, version`

func scanDossier(row pgx.Row) (*Dossier, error) {
	var d Dossier
	if err := row.Scan(&d.ID, &d.Site, &d.Name, &d.Label, &d.OrgUnit, &d.Version); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) FindAllDossiers(ctx context.Context, site string) ([]Dossier, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+dossierCols+` FROM dossier WHERE site = $1 ORDER BY dossier_id`, site)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dossier
	for rows.Next() {
		d, err := scanDossier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *repoPG) FindDossier(ctx context.Context, id, site string) (*Dossier, error) {
	d, err := scanDossier(r.pool.QueryRow(ctx,
		`SELECT `+dossierCols+` FROM dossier WHERE dossier_id = $1 AND site = $2`, id, site))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

const itemCols = `dossier_id, site, item_id, page_nom, page_libelle, bloc_no, bloc_libelle, ligne,
	data_type, mctype, libelle, libelle_bloc, libelle_secondaire, detail,
	type_controle, formule, options, list_nom, list_values, document_type, version`

func (r *repoPG) UpsertItems(ctx context.Context, items []Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`
			INSERT INTO item (`+itemCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,1)
			ON CONFLICT (dossier_id, site, item_id) DO UPDATE SET
				page_nom = EXCLUDED.page_nom,
				page_libelle = EXCLUDED.page_libelle,
				bloc_no = EXCLUDED.bloc_no,
				bloc_libelle = EXCLUDED.bloc_libelle,
				ligne = EXCLUDED.ligne,
				data_type = EXCLUDED.data_type,
				mctype = EXCLUDED.mctype,
				libelle = EXCLUDED.libelle,
				libelle_bloc = EXCLUDED.libelle_bloc,
				libelle_secondaire = EXCLUDED.libelle_secondaire,
				detail = EXCLUDED.detail,
				type_controle = EXCLUDED.type_controle,
				formule = EXCLUDED.formule,
				options = EXCLUDED.options,
				list_nom = EXCLUDED.list_nom,
				list_values = EXCLUDED.list_values,
				document_type = EXCLUDED.document_type,
				version = item.version + 1`,
			it.DossierID, it.Site, it.EffectiveID(), it.PageName, it.PageLabel, it.BlockNo, it.BlockName, it.Line,
			it.DataType, it.MCType, it.Label, it.BlockLabel, it.SecondaryLabel, it.Detail,
			it.ControlType, it.Formula, it.Options, it.ListName, it.ListValues, it.DocumentType,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert items: %w", err)
		}
	}
	return nil
}

func (r *repoPG) UpsertPages(ctx context.Context, pages []Page) error {
	batch := &pgx.Batch{}
	for _, p := range pages {
		batch.Queue(`
			INSERT INTO page (dossier_id, site, document_type, page_libelle, page_code, page_ordre)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (dossier_id, site, document_type, page_libelle) DO UPDATE SET
				page_code = EXCLUDED.page_code,
				page_ordre = EXCLUDED.page_ordre`,
			p.DossierID, p.Site, p.DocumentType, p.Label, p.Code, p.Order,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range pages {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert pages: %w", err)
		}
	}
	return nil
}

func scanItemRows(rows pgx.Rows) ([]Item, error) {
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.DossierID, &it.Site, &it.ID, &it.PageName, &it.PageLabel, &it.BlockNo, &it.BlockName, &it.Line,
			&it.DataType, &it.MCType, &it.Label, &it.BlockLabel, &it.SecondaryLabel, &it.Detail,
			&it.ControlType, &it.Formula, &it.Options, &it.ListName, &it.ListValues, &it.DocumentType, &it.Version,
		); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *repoPG) FindItems(ctx context.Context, dossierID, site string, itemNames []string) ([]Item, error) {
	query := `SELECT ` + itemCols + ` FROM item WHERE dossier_id = $1 AND site = $2`
	args := []any{dossierID, site}
	if len(itemNames) > 0 {
		query += ` AND item_id = ANY($3)`
		args = append(args, itemNames)
	}
	query += ` ORDER BY page_nom, bloc_no, ligne`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanItemRows(rows)
}

func (r *repoPG) FindPages(ctx context.Context, dossierID, site, documentType string) ([]Page, error) {
	query := `SELECT dossier_id, site, document_type, page_libelle, page_code, page_ordre
		FROM page WHERE dossier_id = $1 AND site = $2`
	args := []any{dossierID, site}
	if documentType != "" {
		query += ` AND document_type = $3`
		args = append(args, documentType)
	}
	query += ` ORDER BY document_type, page_ordre`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.DossierID, &p.Site, &p.DocumentType, &p.Label, &p.Code, &p.Order); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindItemsByPage walks from the named page into any detail sheets its items
// reference. Sheets are visited once; the source schema has no mutually
// recursive sheets.
func (r *repoPG) FindItemsByPage(ctx context.Context, dossierID, site, pageLabel string) ([]Item, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+itemCols+` FROM item
		WHERE dossier_id = $1 AND site = $2 AND page_libelle = $3
		ORDER BY bloc_no, ligne`,
		dossierID, site, pageLabel)
	if err != nil {
		return nil, err
	}
	items, err := scanItemRows(rows)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	queue := []string{}
	for _, it := range items {
		if it.HasDetailSheet() && !seen[strings.ToUpper(it.Detail)] {
			seen[strings.ToUpper(it.Detail)] = true
			queue = append(queue, strings.ToUpper(it.Detail))
		}
	}
	for len(queue) > 0 {
		sheet := queue[0]
		queue = queue[1:]

		rows, err := r.pool.Query(ctx,
			`SELECT `+itemCols+` FROM item
			WHERE dossier_id = $1 AND site = $2 AND upper(page_nom) = $3
			ORDER BY bloc_no, ligne`,
			dossierID, site, sheet)
		if err != nil {
			return nil, err
		}
		sheetItems, err := scanItemRows(rows)
		if err != nil {
			return nil, err
		}
		for _, it := range sheetItems {
			if it.HasDetailSheet() && !seen[strings.ToUpper(it.Detail)] {
				seen[strings.ToUpper(it.Detail)] = true
				queue = append(queue, strings.ToUpper(it.Detail))
			}
		}
		items = append(items, sheetItems...)
	}
	return items, nil
}
