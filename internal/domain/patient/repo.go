package patient

import "context"

// Repository is the mirror-side patient store.
type Repository interface {
	// UpsertPatients inserts or refreshes patients keyed by (id, ipp).
	UpsertPatients(ctx context.Context, patients []Patient) error
	// FindByID returns every identity claim recorded for an internal id.
	FindByID(ctx context.Context, id string) ([]Patient, error)
}
