package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mc2/mc2/internal/domain/document"
	"github.com/mc2/mc2/internal/domain/dossier"
	"github.com/mc2/mc2/pkg/pagination"
)

type dossierView struct {
	ID      string `json:"id"`
	Site    string `json:"site"`
	Name    string `json:"name"`
	Label   string `json:"label"`
	OrgUnit string `json:"org_unit"`
}

func toDossierView(d dossier.Dossier) dossierView {
	return dossierView{ID: d.ID, Site: d.Site, Name: d.Name, Label: d.Label, OrgUnit: d.OrgUnit}
}

type itemView struct {
	ID         string `json:"id"`
	PageName   string `json:"page_name"`
	PageLabel  string `json:"page_label"`
	BlockLabel string `json:"block_label"`
	Type       string `json:"type"`
	Label      string `json:"label"`
	ListValues string `json:"list_values,omitempty"`
}

func toItemView(it dossier.Item) itemView {
	return itemView{
		ID:         it.EffectiveID(),
		PageName:   it.PageName,
		PageLabel:  it.PageLabel,
		BlockLabel: it.BlockLabel,
		Type:       it.MCType,
		Label:      it.Label,
		ListValues: it.ListValues,
	}
}

type pageView struct {
	DocumentType string `json:"document_type"`
	Label        string `json:"label"`
	Code         int    `json:"code"`
	Order        string `json:"order"`
}

type documentView struct {
	ID        string `json:"id"`
	PatientID string `json:"patient_id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Revision  int    `json:"revision"`
	Category  string `json:"category"`
	Service   string `json:"service"`
	FullText  string `json:"full_text,omitempty"`
}

func toDocumentView(d document.Document) documentView {
	return documentView{
		ID:        d.ID,
		PatientID: d.PatientID,
		Type:      d.Type,
		CreatedAt: d.CreatedAt.Format("2006-01-02"),
		UpdatedAt: d.UpdatedAt.Format("2006-01-02"),
		Revision:  d.Revision,
		Category:  d.Category,
		Service:   d.Service,
		FullText:  d.FullText,
	}
}

func (s *Server) listDossiers(c echo.Context) error {
	list, err := s.dossiers.FindAllDossiers(c.Request().Context(), s.site)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]dossierView, 0, len(list))
	for _, d := range list {
		views = append(views, toDossierView(d))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) getDossier(c echo.Context) error {
	d, err := s.dossiers.FindDossier(c.Request().Context(), c.Param("id"), s.site)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "dossier not found")
	}
	return c.JSON(http.StatusOK, toDossierView(*d))
}

func (s *Server) listItems(c echo.Context) error {
	var itemNames []string
	if raw := c.QueryParam("items"); raw != "" {
		itemNames = strings.Split(raw, ",")
	}
	var items []dossier.Item
	var err error
	if page := c.QueryParam("page"); page != "" {
		items, err = s.dossiers.FindItemsByPage(c.Request().Context(), c.Param("id"), s.site, page)
	} else {
		items, err = s.dossiers.FindItems(c.Request().Context(), c.Param("id"), s.site, itemNames)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]itemView, 0, len(items))
	for _, it := range items {
		views = append(views, toItemView(it))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) listPages(c echo.Context) error {
	pages, err := s.dossiers.FindPages(c.Request().Context(), c.Param("id"), s.site, c.QueryParam("type"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]pageView, 0, len(pages))
	for _, p := range pages {
		views = append(views, pageView{DocumentType: p.DocumentType, Label: p.Label, Code: p.Code, Order: p.Order})
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) searchDocuments(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing query parameter q")
	}
	p := pagination.FromContext(c)
	docs, total, err := s.documents.SearchFullText(c.Request().Context(), c.Param("id"), s.site, query, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]documentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, toDocumentView(d))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, p.Limit, p.Offset))
}

func (s *Server) getDocument(c echo.Context) error {
	d, err := s.documents.FindByID(c.Request().Context(), c.Param("id"), s.site, c.Param("nipro"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	return c.JSON(http.StatusOK, toDocumentView(*d))
}
