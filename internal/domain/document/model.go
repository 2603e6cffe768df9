package document

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/mc2/mc2/internal/domain/dossier"
	"github.com/mc2/mc2/internal/domain/patient"
	"github.com/mc2/mc2/internal/platform/record"
)

const dateLayout = "2006-01-02"

// Document is one filled clinical report instance.
type Document struct {
	ID            string // source document identifier (NIPRO)
	PatientID     string // internal patient id (NIP)
	DossierID     string
	Site          string
	Type          string // document type (TYPE_EXAM)
	Venue         string
	PatientAge    string
	PatientWeight string
	PatientHeight string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Operator      string
	Revision      int
	Extension     string
	Provisional   bool
	Category      string
	Service       string
	FullText      string
	Deleted       bool
	Version       int

	// Patient is joined in at export time; nil when not loaded.
	Patient *patient.Patient
	// Values holds the document's item values when loaded with them.
	Values []ItemValue
}

// ItemValue is one (document, item) value pair.
type ItemValue struct {
	DocumentID string
	PatientID  string
	DossierID  string
	Site       string
	PageName   string
	Var        string
	Val        string
	// ListIndex is the resolved choice index, set only for single-choice items.
	ListIndex string
	Deleted   bool
	Version   int
}

// NewItemValue builds the value of one item for one extracted source row.
// Single-choice values also carry their resolved list index.
func NewItemValue(dossierID, site string, item dossier.Item, row *record.Record) ItemValue {
	v := ItemValue{
		DocumentID: row.Value("NIPRO"),
		PatientID:  row.Value("NIP"),
		DossierID:  dossierID,
		Site:       site,
		PageName:   item.PageName,
		Var:        item.EffectiveID(),
		Val:        row.Value(item.EffectiveID()),
	}
	if item.MCType == dossier.TypeList {
		if idx, ok := dossier.ChoiceIndex(item.ListValues, v.Val); ok {
			v.ListIndex = idx
		}
	}
	return v
}

// URL returns the retrieval location of the document file at its current
// revision.
func (d *Document) URL(baseURL string) string {
	return d.URLForRevision(baseURL, d.Revision)
}

// URLForRevision builds the file URL for a requested revision. A document
// with revision 0 has no file attached and yields an empty revision segment;
// otherwise a requested revision outside [1, d.Revision] clamps to the
// current revision.
func (d *Document) URLForRevision(baseURL string, revision int) string {
	seg := ""
	if d.Revision != 0 {
		if revision < 1 || revision > d.Revision {
			revision = d.Revision
		}
		seg = fmt.Sprintf("%d", revision)
	}
	return fmt.Sprintf("%s/%s/%s/%s_%s%s", baseURL, d.PatientID, d.DossierID, d.ID, seg, d.Extension)
}

// MCRecord renders the document joined with its patient and item values in
// the source column layout. Items drive both the presence and the order of
// the value columns.
func (d *Document) MCRecord(items []dossier.Item, baseURL string) *record.Record {
	r := record.New()
	r.Set("NIPRO", d.ID)
	if d.Patient != nil {
		r.Set("IPP", d.Patient.IPP)
	} else {
		r.Set("IPP", "")
	}
	r.Set("NIP", d.PatientID)
	if d.Patient != nil {
		r.Set("NOM", d.Patient.LastName)
		r.Set("PRENOM", d.Patient.FirstName)
		r.Set("DATNAI", d.Patient.BirthDateString())
		r.Set("SEXE", d.Patient.Sex)
	} else {
		r.Set("NOM", "")
		r.Set("PRENOM", "")
		r.Set("DATNAI", "")
		r.Set("SEXE", "")
	}
	r.Set("TYPE_EXAM", d.Type)
	r.Set("VENUE", d.Venue)
	r.Set("AGE", d.PatientAge)
	r.Set("POIDS", d.PatientWeight)
	r.Set("TAILLE", d.PatientHeight)
	r.Set("DATE_EXAM", d.CreatedAt.Format(dateLayout))
	r.Set("DATE_MAJ", d.UpdatedAt.Format(dateLayout))
	r.Set("OPER", d.Operator)
	r.Set("REVISION", fmt.Sprintf("%d", d.Revision))
	r.Set("EXTENSION", d.Extension)
	r.Set("CR_PROVISOIRE", boolFlag(d.Provisional))
	r.Set("CATEG", d.Category)
	r.Set("SERVICE", d.Service)
	r.Set("URL_DOC", d.URL(baseURL))

	byVar := make(map[string]string, len(d.Values))
	for _, v := range d.Values {
		byVar[v.Var] = v.Val
	}
	for _, it := range items {
		r.Set(it.EffectiveID(), byVar[it.EffectiveID()])
	}
	return r
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// CleanText strips markup and line-break noise from a cached text fragment.
func CleanText(s string) string {
	s = strings.NewReplacer("<br>", " ", "<br />", " ", "\r\n", " ", "\r", " ").Replace(s)
	s = tagPattern.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}
