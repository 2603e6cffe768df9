package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Mirror table definitions. Deletion is a soft flag everywhere and every row
// carries a version counter bumped on each upsert.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS dossier (
		dossier_id VARCHAR(32) NOT NULL,
		site VARCHAR(8) NOT NULL,
		nom VARCHAR(255) NOT NULL DEFAULT '',
		libelle VARCHAR(255) NOT NULL DEFAULT '',
		uhs TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (dossier_id, site)
	)`,
	`CREATE TABLE IF NOT EXISTS item (
		dossier_id VARCHAR(32) NOT NULL,
		site VARCHAR(8) NOT NULL,
		item_id VARCHAR(128) NOT NULL,
		page_nom VARCHAR(128) NOT NULL DEFAULT '',
		page_libelle VARCHAR(255) NOT NULL DEFAULT '',
		bloc_no VARCHAR(16) NOT NULL DEFAULT '',
		bloc_libelle VARCHAR(255) NOT NULL DEFAULT '',
		ligne VARCHAR(16) NOT NULL DEFAULT '',
		data_type VARCHAR(32) NOT NULL DEFAULT '',
		mctype VARCHAR(16) NOT NULL DEFAULT '',
		libelle TEXT NOT NULL DEFAULT '',
		libelle_bloc TEXT NOT NULL DEFAULT '',
		libelle_secondaire TEXT NOT NULL DEFAULT '',
		detail VARCHAR(128) NOT NULL DEFAULT '',
		type_controle VARCHAR(64) NOT NULL DEFAULT '',
		formule TEXT NOT NULL DEFAULT '',
		options VARCHAR(255) NOT NULL DEFAULT '',
		list_nom VARCHAR(128) NOT NULL DEFAULT '',
		list_values TEXT NOT NULL DEFAULT '',
		document_type VARCHAR(255) NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (dossier_id, site, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS page (
		dossier_id VARCHAR(32) NOT NULL,
		site VARCHAR(8) NOT NULL,
		document_type VARCHAR(255) NOT NULL,
		page_libelle VARCHAR(255) NOT NULL,
		page_code INTEGER NOT NULL DEFAULT 0,
		page_ordre VARCHAR(16) NOT NULL DEFAULT '',
		PRIMARY KEY (dossier_id, site, document_type, page_libelle)
	)`,
	`CREATE TABLE IF NOT EXISTS document (
		nipro VARCHAR(32) NOT NULL,
		patient_id VARCHAR(32) NOT NULL,
		dossier_id VARCHAR(32) NOT NULL,
		site VARCHAR(8) NOT NULL,
		type_exam VARCHAR(255) NOT NULL DEFAULT '',
		venue VARCHAR(64) NOT NULL DEFAULT '',
		age VARCHAR(16) NOT NULL DEFAULT '',
		poids VARCHAR(16) NOT NULL DEFAULT '',
		taille VARCHAR(16) NOT NULL DEFAULT '',
		date_creation TIMESTAMPTZ NOT NULL,
		date_modif TIMESTAMPTZ NOT NULL,
		oper VARCHAR(128) NOT NULL DEFAULT '',
		revision INTEGER NOT NULL DEFAULT 0,
		extension VARCHAR(16) NOT NULL DEFAULT '',
		provisoire BOOLEAN NOT NULL DEFAULT false,
		categorie VARCHAR(16) NOT NULL DEFAULT '',
		service VARCHAR(64) NOT NULL DEFAULT '',
		texte TEXT NOT NULL DEFAULT '',
		deleted BOOLEAN NOT NULL DEFAULT false,
		version INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (nipro, dossier_id, site)
	)`,
	`CREATE INDEX IF NOT EXISTS document_window_idx ON document (dossier_id, site, date_creation)`,
	`CREATE TABLE IF NOT EXISTS item_value (
		nipro VARCHAR(32) NOT NULL,
		patient_id VARCHAR(32) NOT NULL,
		dossier_id VARCHAR(32) NOT NULL,
		site VARCHAR(8) NOT NULL,
		page_nom VARCHAR(128) NOT NULL DEFAULT '',
		var VARCHAR(128) NOT NULL,
		val TEXT NOT NULL DEFAULT '',
		list_index VARCHAR(16) NOT NULL DEFAULT '',
		deleted BOOLEAN NOT NULL DEFAULT false,
		version INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (nipro, patient_id, dossier_id, site, var)
	)`,
	`CREATE INDEX IF NOT EXISTS item_value_doc_idx ON item_value (dossier_id, site, nipro)`,
	`CREATE TABLE IF NOT EXISTS patient (
		patient_id VARCHAR(32) NOT NULL,
		ipp VARCHAR(32) NOT NULL,
		nom VARCHAR(255) NOT NULL DEFAULT '',
		prenom VARCHAR(255) NOT NULL DEFAULT '',
		ddn TIMESTAMPTZ,
		sexe VARCHAR(8) NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (patient_id, ipp)
	)`,
}

// Bootstrap creates the mirror schema. Statements are idempotent, so running
// the install step against an existing mirror is safe.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}
