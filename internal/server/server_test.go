package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mc2/mc2/internal/domain/document"
	"github.com/mc2/mc2/internal/domain/dossier"
)

type stubDossierRepo struct {
	dossiers []dossier.Dossier
	items    []dossier.Item
	pages    []dossier.Page
}

func (r *stubDossierRepo) UpsertDossier(context.Context, *dossier.Dossier) error { return nil }
func (r *stubDossierRepo) FindAllDossiers(context.Context, string) ([]dossier.Dossier, error) {
	return r.dossiers, nil
}
func (r *stubDossierRepo) FindDossier(_ context.Context, id, _ string) (*dossier.Dossier, error) {
	for _, d := range r.dossiers {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("dossier %s not found", id)
}
func (r *stubDossierRepo) UpsertItems(context.Context, []dossier.Item) error { return nil }
func (r *stubDossierRepo) UpsertPages(context.Context, []dossier.Page) error { return nil }
func (r *stubDossierRepo) FindItems(context.Context, string, string, []string) ([]dossier.Item, error) {
	return r.items, nil
}
func (r *stubDossierRepo) FindPages(context.Context, string, string, string) ([]dossier.Page, error) {
	return r.pages, nil
}
func (r *stubDossierRepo) FindItemsByPage(context.Context, string, string, string) ([]dossier.Item, error) {
	return r.items, nil
}

type stubDocumentRepo struct {
	docs []document.Document
}

func (r *stubDocumentRepo) UpsertDocuments(context.Context, []document.Document) error { return nil }
func (r *stubDocumentRepo) UpsertItemValues(context.Context, []document.ItemValue) error {
	return nil
}
func (r *stubDocumentRepo) SoftDelete(context.Context, string, string, []string, []string) error {
	return nil
}
func (r *stubDocumentRepo) FindByID(_ context.Context, _, _, documentID string) (*document.Document, error) {
	for _, d := range r.docs {
		if d.ID == documentID {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("document %s not found", documentID)
}
func (r *stubDocumentRepo) FindByDossier(context.Context, string, string, time.Time, time.Time, []string) ([]document.Document, error) {
	return r.docs, nil
}
func (r *stubDocumentRepo) FindWithValues(context.Context, string, string, time.Time, time.Time, []string, string, string, []string) ([]document.Document, error) {
	return r.docs, nil
}
func (r *stubDocumentRepo) FindPatientIDs(context.Context, string, string, time.Time, time.Time) ([]string, error) {
	return nil, nil
}
func (r *stubDocumentRepo) UpdateFullText(context.Context, string, string, []string) (int, error) {
	return 0, nil
}
func (r *stubDocumentRepo) SearchFullText(_ context.Context, _, _, query string, _, _ int) ([]document.Document, int, error) {
	var out []document.Document
	for _, d := range r.docs {
		if strings.Contains(d.FullText, query) {
			out = append(out, d)
		}
	}
	return out, len(out), nil
}

func testServer() *Server {
	doss := &stubDossierRepo{
		dossiers: []dossier.Dossier{{ID: "DSP2", Site: "SLS", Name: "dsp2", Label: "Suivi"}},
		items:    []dossier.Item{{ID: "VAR1", MCType: dossier.TypeText, PageName: "PAGE1"}},
	}
	docs := &stubDocumentRepo{docs: []document.Document{
		{ID: "1", PatientID: "nip1", DossierID: "DSP2", Site: "SLS", FullText: "[Clinique.Bloc|VAR1]=fievre"},
	}}
	return New("SLS", doss, docs, zerolog.Nop())
}

func do(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestListDossiers(t *testing.T) {
	rec := do(t, testServer(), "/api/dossiers")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var views []dossierView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].ID != "DSP2" {
		t.Errorf("views = %v", views)
	}
}

func TestGetDossierNotFound(t *testing.T) {
	if rec := do(t, testServer(), "/api/dossiers/NOPE"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListItems(t *testing.T) {
	rec := do(t, testServer(), "/api/dossiers/DSP2/items")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var views []itemView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].ID != "VAR1" {
		t.Errorf("views = %v", views)
	}
}

func TestSearchDocumentsRequiresQuery(t *testing.T) {
	if rec := do(t, testServer(), "/api/dossiers/DSP2/documents/search"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSearchDocuments(t *testing.T) {
	rec := do(t, testServer(), "/api/dossiers/DSP2/documents/search?q=fievre")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Data  []documentView `json:"data"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 || resp.Data[0].ID != "1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestGetDocument(t *testing.T) {
	rec := do(t, testServer(), "/api/dossiers/DSP2/documents/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = do(t, testServer(), "/api/dossiers/DSP2/documents/999")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
