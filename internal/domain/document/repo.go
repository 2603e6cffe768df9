package document

import (
	"context"
	"time"
)

// Repository is the mirror-side store of documents and item values.
//
// Upserts are idempotent and keyed by natural identity; re-running an import
// window leaves the visible row set unchanged (versions increase). Deletion
// is always a soft flag.
type Repository interface {
	UpsertDocuments(ctx context.Context, docs []Document) error
	// UpsertItemValues persists values, skipping empty ones: blank values are
	// never stored.
	UpsertItemValues(ctx context.Context, values []ItemValue) error
	// SoftDelete flags the given documents and their item values before a
	// window is reloaded. An optional item-name filter limits the value rows
	// affected.
	SoftDelete(ctx context.Context, dossierID, site string, documentIDs, itemNames []string) error

	FindByID(ctx context.Context, dossierID, site, documentID string) (*Document, error)
	FindByDossier(ctx context.Context, dossierID, site string, start, end time.Time, patientIDs []string) ([]Document, error)
	// FindWithValues loads documents with their item values attached, in
	// ascending (creation date, id) order. That iteration order is what keeps
	// longitudinal repeat-instance numbers stable across re-runs that share a
	// start date.
	FindWithValues(ctx context.Context, dossierID, site string, start, end time.Time, itemNames []string, pageName, documentType string, patientIDs []string) ([]Document, error)
	FindPatientIDs(ctx context.Context, dossierID, site string, start, end time.Time) ([]string, error)

	// UpdateFullText recomputes the cached searchable text of the given
	// non-provisional documents from their current item values.
	UpdateFullText(ctx context.Context, dossierID, site string, documentIDs []string) (int, error)
	// SearchFullText matches the cached text, newest documents first.
	SearchFullText(ctx context.Context, dossierID, site, query string, limit, offset int) ([]Document, int, error)
}
