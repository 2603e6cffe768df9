package dossier

import "context"

// Repository is the mirror-side store of dossier definitions.
type Repository interface {
	UpsertDossier(ctx context.Context, d *Dossier) error
	FindAllDossiers(ctx context.Context, site string) ([]Dossier, error)
	FindDossier(ctx context.Context, id, site string) (*Dossier, error)

	UpsertItems(ctx context.Context, items []Item) error
	UpsertPages(ctx context.Context, pages []Page) error

	// FindItems returns a dossier's items, optionally restricted to the
	// given item names, ordered by (page, block, line).
	FindItems(ctx context.Context, dossierID, site string, itemNames []string) ([]Item, error)
	FindPages(ctx context.Context, dossierID, site, documentType string) ([]Page, error)
	// FindItemsByPage returns the items of one page, pulling in the items of
	// any nested detail sheets referenced by the page's items.
	FindItemsByPage(ctx context.Context, dossierID, site, pageLabel string) ([]Item, error)
}
