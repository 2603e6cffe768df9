// Package extract orchestrates the MiddleCare pipelines: source to mirror
// imports, mirror to CSV and RedCap exports, and document file retrieval.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mc2/mc2/internal/domain/document"
	"github.com/mc2/mc2/internal/domain/dossier"
	"github.com/mc2/mc2/internal/domain/patient"
	"github.com/mc2/mc2/internal/platform/csvout"
	"github.com/mc2/mc2/internal/platform/record"
	"github.com/mc2/mc2/internal/redcap"
)

// Source is the MiddleCare side of the pipeline.
type Source interface {
	DossierList(ctx context.Context) ([]dossier.Dossier, error)
	Pages(ctx context.Context, dossierID, documentType string) ([]dossier.Page, error)
	Items(ctx context.Context, dossierID string, itemNames, pageNames []string) ([]dossier.Item, error)
	CategoriesOfPeriod(ctx context.Context, dossierID string, start, end time.Time, dateUpdate bool) ([]string, error)
	CategoryOfDocument(ctx context.Context, documentID string) (string, error)
	ItemsForCategory(ctx context.Context, dossierID, category string) ([]dossier.Item, error)
	Data(ctx context.Context, dossierID string, start, end time.Time, items []dossier.Item, category string, dateUpdate bool) ([]*record.Record, error)
	DataForDocument(ctx context.Context, dossierID, documentID string, items []dossier.Item) ([]*record.Record, error)
}

// Upsert batch sizes. Value batches stay small because a single document
// fans out into many value rows.
const (
	patientBatchSize  = 1000
	documentBatchSize = 1000
	valueBatchSize    = 200
)

// patientsPerFile bounds RedCap export files by patient count so single
// uploads stay within the API's request limits.
const patientsPerFile = 10

// Manager runs the extraction pipelines for one site.
type Manager struct {
	site      string
	docBase   string
	dataDir   string
	source    Source
	dossiers  dossier.Repository
	documents document.Repository
	patients  patient.Repository
	csv       *csvout.Writer
	client    *redcap.Client
	http      *http.Client
	log       zerolog.Logger
}

// Params collects the manager's collaborators. RedCap is optional; without
// it exports only produce files.
type Params struct {
	Site       string
	DocBaseURL string
	DataDir    string
	Source     Source
	Dossiers   dossier.Repository
	Documents  document.Repository
	Patients   patient.Repository
	CSV        *csvout.Writer
	RedCap     *redcap.Client
	Log        zerolog.Logger
}

func NewManager(p Params) *Manager {
	return &Manager{
		site:      p.Site,
		docBase:   p.DocBaseURL,
		dataDir:   p.DataDir,
		source:    p.Source,
		dossiers:  p.Dossiers,
		documents: p.Documents,
		patients:  p.Patients,
		csv:       p.CSV,
		client:    p.RedCap,
		http:      &http.Client{Timeout: 2 * time.Minute},
		log:       p.Log,
	}
}

// ImportAllDossierMetadata mirrors the site's dossier list.
func (m *Manager) ImportAllDossierMetadata(ctx context.Context) (int, error) {
	list, err := m.source.DossierList(ctx)
	if err != nil {
		return 0, err
	}
	for i := range list {
		if err := m.dossiers.UpsertDossier(ctx, &list[i]); err != nil {
			return i, err
		}
	}
	m.log.Info().Int("dossier_count", len(list)).Msg("dossier metadata imported")
	return len(list), nil
}

// ImportDictionary mirrors one dossier's full dictionary: its item
// definitions, including nested detail sheets and resolved choice lists, and
// its page layout.
func (m *Manager) ImportDictionary(ctx context.Context, dossierID string) error {
	items, err := m.source.Items(ctx, dossierID, nil, nil)
	if err != nil {
		return err
	}
	if err := m.dossiers.UpsertItems(ctx, items); err != nil {
		return err
	}
	pages, err := m.source.Pages(ctx, dossierID, "")
	if err != nil {
		return err
	}
	if err := m.dossiers.UpsertPages(ctx, pages); err != nil {
		return err
	}
	m.log.Info().Str("dossier_id", dossierID).
		Int("item_count", len(items)).Int("page_count", len(pages)).
		Msg("dictionary imported")
	return nil
}

// ImportData mirrors the documents of a period, week by week and category by
// category. Reloaded documents are soft-deleted first so values removed at
// the source disappear from the mirror too. With dateUpdate set the window
// selects on publication date, which is how incremental catch-up runs work.
func (m *Manager) ImportData(ctx context.Context, dossierID string, start, end time.Time, itemNames []string, dateUpdate bool) error {
	for _, w := range WeeklyWindows(start, end) {
		categories, err := m.source.CategoriesOfPeriod(ctx, dossierID, w.Start, w.End, dateUpdate)
		if err != nil {
			return err
		}
		for _, category := range categories {
			items, err := m.source.ItemsForCategory(ctx, dossierID, category)
			if err != nil {
				return err
			}
			if len(itemNames) > 0 {
				items = filterItems(items, itemNames)
			}
			rows, err := m.source.Data(ctx, dossierID, w.Start, w.End, items, category, dateUpdate)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				continue
			}
			if err := m.persistRows(ctx, dossierID, category, items, itemNames, rows); err != nil {
				return err
			}
		}
		m.log.Info().Str("dossier_id", dossierID).
			Time("window_start", w.Start).Time("window_end", w.End).
			Int("category_count", len(categories)).Msg("window imported")
	}
	return nil
}

// ImportDocument mirrors a single document, resolving its category to know
// which items apply.
func (m *Manager) ImportDocument(ctx context.Context, dossierID, documentID string) error {
	category, err := m.source.CategoryOfDocument(ctx, documentID)
	if err != nil {
		return err
	}
	items, err := m.source.ItemsForCategory(ctx, dossierID, category)
	if err != nil {
		return err
	}
	rows, err := m.source.DataForDocument(ctx, dossierID, documentID, items)
	if err != nil {
		return err
	}
	return m.persistRows(ctx, dossierID, category, items, nil, rows)
}

func (m *Manager) persistRows(ctx context.Context, dossierID, category string, items []dossier.Item, itemNames []string, rows []*record.Record) error {
	docs := make([]document.Document, 0, len(rows))
	pats := make([]patient.Patient, 0, len(rows))
	ids := make([]string, 0, len(rows))
	var values []document.ItemValue

	for _, row := range rows {
		doc := documentFromRow(dossierID, m.site, category, row)
		docs = append(docs, doc)
		ids = append(ids, doc.ID)
		pats = append(pats, patientFromRow(row))
		for _, it := range items {
			v := document.NewItemValue(dossierID, m.site, it, row)
			if v.Val == "" {
				continue
			}
			values = append(values, v)
		}
	}

	if err := m.documents.SoftDelete(ctx, dossierID, m.site, ids, itemNames); err != nil {
		return err
	}
	for _, chunk := range chunkPatients(pats, patientBatchSize) {
		if err := m.patients.UpsertPatients(ctx, chunk); err != nil {
			return err
		}
	}
	for _, chunk := range chunkDocuments(docs, documentBatchSize) {
		if err := m.documents.UpsertDocuments(ctx, chunk); err != nil {
			return err
		}
	}
	for _, chunk := range chunkValues(values, valueBatchSize) {
		if err := m.documents.UpsertItemValues(ctx, chunk); err != nil {
			return err
		}
	}

	updated, err := m.documents.UpdateFullText(ctx, dossierID, m.site, ids)
	if err != nil {
		return err
	}
	m.log.Debug().Str("dossier_id", dossierID).Str("category", category).
		Int("document_count", len(docs)).Int("value_count", len(values)).
		Int("fulltext_count", updated).Msg("category persisted")
	return nil
}

// ExportDossierListCSV writes the mirrored dossier list of the site.
func (m *Manager) ExportDossierListCSV(ctx context.Context) (string, error) {
	list, err := m.dossiers.FindAllDossiers(ctx, m.site)
	if err != nil {
		return "", err
	}
	rows := make([]*record.Record, 0, len(list))
	for _, d := range list {
		rows = append(rows, d.MCRecord())
	}
	return m.csv.Save(csvout.File{Prefix: fmt.Sprintf("DSP_%s", m.site), Rows: rows})
}

// ExportDictionaryCSV writes one dossier's dictionary in the source column
// layout.
func (m *Manager) ExportDictionaryCSV(ctx context.Context, dossierID string) (string, error) {
	items, err := m.dossiers.FindItems(ctx, dossierID, m.site, nil)
	if err != nil {
		return "", err
	}
	rows := make([]*record.Record, 0, len(items))
	for _, it := range items {
		rows = append(rows, it.MCRecord())
	}
	return m.csv.Save(csvout.File{Prefix: fmt.Sprintf("DSP_%s_%s_dict", m.site, dossierID), Rows: rows})
}

// DataExportOptions narrow a flat CSV export.
type DataExportOptions struct {
	Start time.Time
	End   time.Time
	// ItemNames restricts the value columns; empty means every item.
	ItemNames []string
	// PageLabel restricts items to one page and its nested detail sheets.
	PageLabel string
	// DocumentType restricts to documents of one type.
	DocumentType string
	// PatientIDs restricts to the given internal patient ids.
	PatientIDs []string
}

// ExportDataCSV writes the documents of a period as flat CSV, one file per
// month. Each file opens with four metadata rows describing every item
// column (block label, page label, item type, choice list) before the data.
func (m *Manager) ExportDataCSV(ctx context.Context, dossierID string, opts DataExportOptions) ([]string, error) {
	var items []dossier.Item
	var err error
	if opts.PageLabel != "" {
		items, err = m.dossiers.FindItemsByPage(ctx, dossierID, m.site, opts.PageLabel)
	} else {
		items, err = m.dossiers.FindItems(ctx, dossierID, m.site, opts.ItemNames)
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, w := range MonthlyWindows(opts.Start, opts.End) {
		docs, err := m.documents.FindWithValues(ctx, dossierID, m.site, w.Start, w.End,
			itemIDs(items), "", opts.DocumentType, opts.PatientIDs)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			continue
		}
		if err := m.attachPatients(ctx, docs); err != nil {
			return nil, err
		}
		rows := metadataRows(items, m.docBase)
		for i := range docs {
			rows = append(rows, docs[i].MCRecord(items, m.docBase))
		}
		prefix := fmt.Sprintf("DSP_%s_%s_data_%s_%s", m.site, dossierID,
			w.Start.Format("20060102"), w.End.Format("20060102"))
		name, err := m.csv.Save(csvout.File{Prefix: prefix, Rows: rows})
		if err != nil {
			return nil, err
		}
		files = append(files, name)
	}
	return files, nil
}

// ExportSourceDataCSV extracts a period straight from the source and writes
// it as monthly CSV files without touching the mirror.
func (m *Manager) ExportSourceDataCSV(ctx context.Context, dossierID string, start, end time.Time, itemNames []string) ([]string, error) {
	items, err := m.source.Items(ctx, dossierID, itemNames, nil)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, w := range MonthlyWindows(start, end) {
		rows, err := m.source.Data(ctx, dossierID, w.Start, w.End, items, "", false)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		out := append(metadataRowsFor(rows[0].Keys(), items), rows...)
		prefix := fmt.Sprintf("MC_%s_%s_data_%s_%s", m.site, dossierID,
			w.Start.Format("20060102"), w.End.Format("20060102"))
		name, err := m.csv.Save(csvout.File{Prefix: prefix, Rows: out})
		if err != nil {
			return nil, err
		}
		files = append(files, name)
	}
	return files, nil
}

// metadataRows builds the four descriptive rows preceding the data: for each
// item column its block label, page label, item type and serialized choice
// list. The fixed document columns stay empty.
func metadataRows(items []dossier.Item, docBase string) []*record.Record {
	tmpl := (&document.Document{}).MCRecord(items, docBase)
	return metadataRowsFor(tmpl.Keys(), items)
}

func metadataRowsFor(columns []string, items []dossier.Item) []*record.Record {
	byID := make(map[string]dossier.Item, len(items))
	for _, it := range items {
		byID[it.EffectiveID()] = it
	}

	pick := []func(dossier.Item) string{
		func(it dossier.Item) string { return it.BlockLabel },
		func(it dossier.Item) string { return it.PageLabel },
		func(it dossier.Item) string { return it.MCType },
		func(it dossier.Item) string { return it.ListValues },
	}
	rows := make([]*record.Record, len(pick))
	for i, f := range pick {
		r := record.New()
		for _, col := range columns {
			if it, ok := byID[col]; ok {
				r.Set(col, f(it))
			} else {
				r.Set(col, "")
			}
		}
		rows[i] = r
	}
	return rows
}

// ExportDictionaryRedCap builds and writes a dossier's RedCap data
// dictionary.
func (m *Manager) ExportDictionaryRedCap(ctx context.Context, dossierID string, project redcap.Project) (string, *redcap.Dictionary, error) {
	dict, err := m.buildDictionary(ctx, dossierID, project)
	if err != nil {
		return "", nil, err
	}
	name, err := m.csv.Save(csvout.File{
		Prefix: fmt.Sprintf("RC_%s_%s_dictionary", m.site, dossierID),
		Rows:   dict.Records(),
	})
	return name, dict, err
}

// buildDictionary assembles the full dictionary of a dossier. The project's
// main-instrument allow-list splits the fields between instruments but never
// narrows the item set here.
func (m *Manager) buildDictionary(ctx context.Context, dossierID string, project redcap.Project) (*redcap.Dictionary, error) {
	items, err := m.dossiers.FindItems(ctx, dossierID, m.site, nil)
	if err != nil {
		return nil, err
	}
	var pages []dossier.Page
	if project.EventAsDocumentType {
		if pages, err = m.dossiers.FindPages(ctx, dossierID, m.site, ""); err != nil {
			return nil, err
		}
	}
	return redcap.BuildDictionary(project, dossierID, items, pages), nil
}

// RedCapExportOptions narrow a RedCap data export.
type RedCapExportOptions struct {
	Start     time.Time
	End       time.Time
	ItemNames []string
	// APICall pushes each produced file to the RedCap API as well.
	APICall bool
	// Overwrite makes blank cells erase existing RedCap values.
	Overwrite bool
}

// ExportDataRedCap transcodes the documents of a period into RedCap import
// rows and writes them in patient-bounded files. Documents are walked in
// creation order, so repeat instance numbers only stay stable across runs
// that share a start date.
func (m *Manager) ExportDataRedCap(ctx context.Context, dossierID string, project redcap.Project, opts RedCapExportOptions) ([]string, error) {
	dict, err := m.buildDictionary(ctx, dossierID, project)
	if err != nil {
		return nil, err
	}
	items, err := m.dossiers.FindItems(ctx, dossierID, m.site, opts.ItemNames)
	if err != nil {
		return nil, err
	}
	builder := redcap.NewRowBuilder(dict, m.log)

	patientIDs, err := m.documents.FindPatientIDs(ctx, dossierID, m.site, opts.Start, opts.End)
	if err != nil {
		return nil, err
	}

	var files []string
	for i, chunk := range chunkStrings(patientIDs, patientsPerFile) {
		docs, err := m.documents.FindWithValues(ctx, dossierID, m.site, opts.Start, opts.End,
			itemIDs(items), "", "", chunk)
		if err != nil {
			return nil, err
		}
		if err := m.attachPatients(ctx, docs); err != nil {
			return nil, err
		}
		mcRows := make([]*record.Record, 0, len(docs))
		for j := range docs {
			mcRows = append(mcRows, docs[j].MCRecord(items, m.docBase))
		}
		var rows []*record.Record
		if project.Longitudinal {
			rows = builder.Longitudinal(mcRows)
		} else {
			rows = builder.Flat(mcRows)
		}

		prefix := fmt.Sprintf("RC_%s_%s_data_%s-%s_%d", m.site, dossierID,
			opts.Start.Format("20060102"), opts.End.Format("20060102"), i)
		name, err := m.csv.Save(csvout.File{Prefix: prefix, Rows: rows})
		if err != nil {
			return nil, err
		}
		files = append(files, name)

		if opts.APICall && m.client != nil {
			payload, err := csvout.Encode(rows)
			if err != nil {
				return nil, err
			}
			if _, err := m.client.ImportRecords(ctx, payload, opts.Overwrite); err != nil {
				return nil, err
			}
		}
	}
	m.log.Info().Str("dossier_id", dossierID).Int("file_count", len(files)).
		Int("patient_count", len(patientIDs)).Msg("redcap data exported")
	return files, nil
}

// PDFExportOptions select the documents whose files are downloaded. With
// DocumentID set only that document is fetched; otherwise every document of
// the window, optionally narrowed to patients, has its revisions downloaded.
type PDFExportOptions struct {
	Start      time.Time
	End        time.Time
	PatientIDs []string
	DocumentID string
	// Revision picks a single revision; zero means every revision, with
	// requests outside a document's range clamped to its current revision.
	Revision int
}

// ExportPDF downloads document files into the data directory. Documents
// without an attached file (revision 0) are skipped, except when requested
// explicitly by id, which is an error.
func (m *Manager) ExportPDF(ctx context.Context, dossierID string, opts PDFExportOptions) ([]string, error) {
	var docs []document.Document
	if opts.DocumentID != "" {
		doc, err := m.documents.FindByID(ctx, dossierID, m.site, opts.DocumentID)
		if err != nil {
			return nil, err
		}
		if doc.Revision == 0 {
			return nil, fmt.Errorf("document %s has no file attached", opts.DocumentID)
		}
		docs = []document.Document{*doc}
	} else {
		var err error
		docs, err = m.documents.FindByDossier(ctx, dossierID, m.site, opts.Start, opts.End, opts.PatientIDs)
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(m.dataDir, 0o755); err != nil {
		return nil, err
	}
	var files []string
	for i := range docs {
		doc := &docs[i]
		if doc.Revision == 0 {
			m.log.Debug().Str("document_id", doc.ID).Msg("no file attached, skipped")
			continue
		}
		first, last := 1, doc.Revision
		if opts.Revision != 0 {
			rev := opts.Revision
			if rev < 1 || rev > doc.Revision {
				rev = doc.Revision
			}
			first, last = rev, rev
		}
		for rev := first; rev <= last; rev++ {
			name, err := m.downloadRevision(ctx, doc, rev)
			if err != nil {
				return files, err
			}
			files = append(files, name)
		}
	}
	m.log.Info().Str("dossier_id", dossierID).Int("file_count", len(files)).Msg("document files retrieved")
	return files, nil
}

func (m *Manager) downloadRevision(ctx context.Context, doc *document.Document, revision int) (string, error) {
	url := doc.URLForRevision(m.docBase, revision)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	name := fmt.Sprintf("%s_%d%s", doc.ID, revision, doc.Extension)
	path := filepath.Join(m.dataDir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	m.log.Info().Str("document_id", doc.ID).Int("revision", revision).Str("file", name).Msg("document file retrieved")
	return name, nil
}

// attachPatients joins each document's patient record in before export,
// reusing lookups within the batch. A patient with several identity claims
// contributes the first one.
func (m *Manager) attachPatients(ctx context.Context, docs []document.Document) error {
	cache := map[string]*patient.Patient{}
	for i := range docs {
		id := docs[i].PatientID
		p, ok := cache[id]
		if !ok {
			claims, err := m.patients.FindByID(ctx, id)
			if err != nil {
				return err
			}
			if len(claims) > 0 {
				p = &claims[0]
			}
			cache[id] = p
		}
		docs[i].Patient = p
	}
	return nil
}

var sourceDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseSourceDate(s string) time.Time {
	for _, layout := range sourceDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func documentFromRow(dossierID, site, category string, row *record.Record) document.Document {
	revision, _ := strconv.Atoi(row.Value("REVISION"))
	return document.Document{
		ID:            row.Value("NIPRO"),
		PatientID:     row.Value("NIP"),
		DossierID:     dossierID,
		Site:          site,
		Type:          row.Value("TYPE_EXAM"),
		Venue:         row.Value("VENUE"),
		PatientAge:    row.Value("AGE"),
		PatientWeight: row.Value("POIDS"),
		PatientHeight: row.Value("TAILLE"),
		CreatedAt:     parseSourceDate(row.Value("DATE_EXAM")),
		UpdatedAt:     parseSourceDate(row.Value("DATE_MAJ")),
		Operator:      row.Value("OPER"),
		Revision:      revision,
		Extension:     row.Value("EXTENSION"),
		Provisional:   row.Value("CR_PROVISOIRE") == "1",
		Category:      category,
		Service:       row.Value("SERVICE"),
	}
}

func patientFromRow(row *record.Record) patient.Patient {
	ipp := row.Value("IPP")
	if ipp == "" {
		ipp = "0"
	}
	return patient.Patient{
		ID:        row.Value("NIP"),
		IPP:       ipp,
		LastName:  row.Value("NOM"),
		FirstName: row.Value("PRENOM"),
		BirthDate: parseSourceDate(row.Value("DATNAI")),
		Sex:       row.Value("SEXE"),
	}
}

func filterItems(items []dossier.Item, names []string) []dossier.Item {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToUpper(n)] = true
	}
	var out []dossier.Item
	for _, it := range items {
		if want[strings.ToUpper(it.EffectiveID())] {
			out = append(out, it)
		}
	}
	return out
}

func itemIDs(items []dossier.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.EffectiveID())
	}
	return out
}

func chunkStrings(in []string, n int) [][]string {
	var out [][]string
	for start := 0; start < len(in); start += n {
		end := start + n
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[start:end])
	}
	return out
}

func chunkPatients(in []patient.Patient, n int) [][]patient.Patient {
	var out [][]patient.Patient
	for start := 0; start < len(in); start += n {
		end := start + n
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[start:end])
	}
	return out
}

func chunkDocuments(in []document.Document, n int) [][]document.Document {
	var out [][]document.Document
	for start := 0; start < len(in); start += n {
		end := start + n
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[start:end])
	}
	return out
}

func chunkValues(in []document.ItemValue, n int) [][]document.ItemValue {
	var out [][]document.ItemValue
	for start := 0; start < len(in); start += n {
		end := start + n
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[start:end])
	}
	return out
}
