package document

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const documentCols = `nipro, patient_id, dossier_id, site, type_exam, venue, age, poids, taille,
	date_creation, date_modif, oper, revision, extension, provisoire, categorie, service, texte, deleted, version`

func (r *repoPG) UpsertDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(`
			INSERT INTO document (nipro, patient_id, dossier_id, site, type_exam, venue, age, poids, taille,
				date_creation, date_modif, oper, revision, extension, provisoire, categorie, service, texte, deleted, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,'',false,1)
			ON CONFLICT (nipro, dossier_id, site) DO UPDATE SET
				patient_id = EXCLUDED.patient_id,
				type_exam = EXCLUDED.type_exam,
				venue = EXCLUDED.venue,
				age = EXCLUDED.age,
				poids = EXCLUDED.poids,
				taille = EXCLUDED.taille,
				date_creation = EXCLUDED.date_creation,
				date_modif = EXCLUDED.date_modif,
				oper = EXCLUDED.oper,
				revision = EXCLUDED.revision,
				extension = EXCLUDED.extension,
				provisoire = EXCLUDED.provisoire,
				categorie = EXCLUDED.categorie,
				service = EXCLUDED.service,
				deleted = false,
				version = document.version + 1`,
			d.ID, d.PatientID, d.DossierID, d.Site, d.Type, d.Venue, d.PatientAge, d.PatientWeight, d.PatientHeight,
			d.CreatedAt, d.UpdatedAt, d.Operator, d.Revision, d.Extension, d.Provisional, d.Category, d.Service,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range docs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert documents: %w", err)
		}
	}
	return nil
}

func (r *repoPG) UpsertItemValues(ctx context.Context, values []ItemValue) error {
	batch := &pgx.Batch{}
	queued := 0
	for _, v := range values {
		if v.Val == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO item_value (nipro, patient_id, dossier_id, site, page_nom, var, val, list_index, deleted, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false,1)
			ON CONFLICT (nipro, patient_id, dossier_id, site, var) DO UPDATE SET
				page_nom = EXCLUDED.page_nom,
				val = EXCLUDED.val,
				list_index = EXCLUDED.list_index,
				deleted = false,
				version = item_value.version + 1`,
			v.DocumentID, v.PatientID, v.DossierID, v.Site, v.PageName, v.Var, v.Val, v.ListIndex,
		)
		queued++
	}
	if queued == 0 {
		return nil
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < queued; i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert item values: %w", err)
		}
	}
	return nil
}

func (r *repoPG) SoftDelete(ctx context.Context, dossierID, site string, documentIDs, itemNames []string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx,
		`UPDATE document SET deleted = true WHERE dossier_id = $1 AND site = $2 AND nipro = ANY($3)`,
		dossierID, site, documentIDs); err != nil {
		return fmt.Errorf("soft delete documents: %w", err)
	}

	query := `UPDATE item_value SET deleted = true WHERE dossier_id = $1 AND site = $2 AND nipro = ANY($3)`
	args := []any{dossierID, site, documentIDs}
	if len(itemNames) > 0 {
		query += ` AND var = ANY($4)`
		args = append(args, itemNames)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("soft delete item values: %w", err)
	}
	return nil
}

func scanDocumentRows(rows pgx.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(
			&d.ID, &d.PatientID, &d.DossierID, &d.Site, &d.Type, &d.Venue, &d.PatientAge, &d.PatientWeight, &d.PatientHeight,
			&d.CreatedAt, &d.UpdatedAt, &d.Operator, &d.Revision, &d.Extension, &d.Provisional, &d.Category, &d.Service,
			&d.FullText, &d.Deleted, &d.Version,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repoPG) FindByID(ctx context.Context, dossierID, site, documentID string) (*Document, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+documentCols+` FROM document
		WHERE dossier_id = $1 AND site = $2 AND nipro = $3 AND NOT deleted`,
		dossierID, site, documentID)
	if err != nil {
		return nil, err
	}
	docs, err := scanDocumentRows(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("document %s not found", documentID)
	}
	return &docs[0], nil
}

func (r *repoPG) FindByDossier(ctx context.Context, dossierID, site string, start, end time.Time, patientIDs []string) ([]Document, error) {
	query := `SELECT ` + documentCols + ` FROM document
		WHERE dossier_id = $1 AND site = $2 AND NOT deleted
		AND date_creation >= $3 AND date_creation < $4`
	args := []any{dossierID, site, start, end}
	if len(patientIDs) > 0 {
		query += ` AND patient_id = ANY($5)`
		args = append(args, patientIDs)
	}
	query += ` ORDER BY date_creation, nipro`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanDocumentRows(rows)
}

func (r *repoPG) FindWithValues(ctx context.Context, dossierID, site string, start, end time.Time, itemNames []string, pageName, documentType string, patientIDs []string) ([]Document, error) {
	query := `SELECT ` + documentCols + ` FROM document
		WHERE dossier_id = $1 AND site = $2 AND NOT deleted
		AND date_creation >= $3 AND date_creation < $4`
	args := []any{dossierID, site, start, end}
	if documentType != "" {
		args = append(args, documentType)
		query += fmt.Sprintf(` AND type_exam = $%d`, len(args))
	}
	if len(patientIDs) > 0 {
		args = append(args, patientIDs)
		query += fmt.Sprintf(` AND patient_id = ANY($%d)`, len(args))
	}
	query += ` ORDER BY date_creation, nipro`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	docs, err := scanDocumentRows(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return docs, nil
	}

	ids := make([]string, 0, len(docs))
	index := make(map[string]int, len(docs))
	for i, d := range docs {
		ids = append(ids, d.ID)
		index[d.ID] = i
	}

	vquery := `SELECT nipro, patient_id, dossier_id, site, page_nom, var, val, list_index, deleted, version
		FROM item_value
		WHERE dossier_id = $1 AND site = $2 AND NOT deleted AND nipro = ANY($3)`
	vargs := []any{dossierID, site, ids}
	if len(itemNames) > 0 {
		vargs = append(vargs, itemNames)
		vquery += fmt.Sprintf(` AND var = ANY($%d)`, len(vargs))
	}
	if pageName != "" {
		vargs = append(vargs, pageName)
		vquery += fmt.Sprintf(` AND page_nom = $%d`, len(vargs))
	}
	vrows, err := r.pool.Query(ctx, vquery, vargs...)
	if err != nil {
		return nil, err
	}
	defer vrows.Close()
	for vrows.Next() {
		var v ItemValue
		if err := vrows.Scan(&v.DocumentID, &v.PatientID, &v.DossierID, &v.Site, &v.PageName, &v.Var, &v.Val, &v.ListIndex, &v.Deleted, &v.Version); err != nil {
			return nil, err
		}
		if i, ok := index[v.DocumentID]; ok {
			docs[i].Values = append(docs[i].Values, v)
		}
	}
	return docs, vrows.Err()
}

func (r *repoPG) FindPatientIDs(ctx context.Context, dossierID, site string, start, end time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT patient_id FROM document
		WHERE dossier_id = $1 AND site = $2 AND NOT deleted
		AND date_creation >= $3 AND date_creation < $4
		ORDER BY patient_id`,
		dossierID, site, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *repoPG) UpdateFullText(ctx context.Context, dossierID, site string, documentIDs []string) (int, error) {
	if len(documentIDs) == 0 {
		return 0, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT doc.nipro,
			string_agg(DISTINCT '[' || it.page_libelle || '.' || it.libelle_bloc || '|' || iv.var || ']=' || iv.val, '; ')
		FROM document doc
		JOIN item_value iv ON iv.nipro = doc.nipro AND iv.dossier_id = doc.dossier_id AND iv.site = doc.site AND NOT iv.deleted
		JOIN item it ON it.dossier_id = iv.dossier_id AND it.site = iv.site AND it.item_id = iv.var
		WHERE NOT doc.provisoire AND NOT doc.deleted
		AND doc.dossier_id = $1 AND doc.site = $2 AND doc.nipro = ANY($3)
		GROUP BY doc.nipro`,
		dossierID, site, documentIDs)
	if err != nil {
		return 0, err
	}
	texts := map[string]string{}
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			rows.Close()
			return 0, err
		}
		texts[id] = CleanText(text)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	for id, text := range texts {
		if _, err := r.pool.Exec(ctx,
			`UPDATE document SET texte = $1 WHERE NOT deleted AND dossier_id = $2 AND site = $3 AND nipro = $4`,
			text, dossierID, site, id); err != nil {
			return count, fmt.Errorf("update full text of %s: %w", id, err)
		}
		count++
	}
	return count, nil
}

func (r *repoPG) SearchFullText(ctx context.Context, dossierID, site, query string, limit, offset int) ([]Document, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM document
		WHERE dossier_id = $1 AND site = $2 AND NOT deleted AND texte ILIKE '%' || $3 || '%'`,
		dossierID, site, query).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+documentCols+` FROM document
		WHERE dossier_id = $1 AND site = $2 AND NOT deleted AND texte ILIKE '%' || $3 || '%'
		ORDER BY date_creation DESC, nipro DESC LIMIT $4 OFFSET $5`,
		dossierID, site, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	docs, err := scanDocumentRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}
