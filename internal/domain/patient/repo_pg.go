package patient

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const patientCols = `patient_id, ipp, nom, prenom, ddn, sexe, version`

func (r *repoPG) UpsertPatients(ctx context.Context, patients []Patient) error {
	if len(patients) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range patients {
		batch.Queue(`
			INSERT INTO patient (patient_id, ipp, nom, prenom, ddn, sexe, version)
			VALUES ($1,$2,$3,$4,$5,$6,1)
			ON CONFLICT (patient_id, ipp) DO UPDATE SET
				nom = EXCLUDED.nom,
				prenom = EXCLUDED.prenom,
				ddn = EXCLUDED.ddn,
				sexe = EXCLUDED.sexe,
				version = patient.version + 1`,
			p.ID, p.IPP, p.LastName, p.FirstName, p.BirthDate, p.Sex,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range patients {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert patients: %w", err)
		}
	}
	return nil
}

func (r *repoPG) FindByID(ctx context.Context, id string) ([]Patient, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+patientCols+` FROM patient WHERE patient_id = $1 ORDER BY ipp`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.IPP, &p.LastName, &p.FirstName, &p.BirthDate, &p.Sex, &p.Version); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
