package dossier

import (
	"regexp"
	"strings"

	"github.com/mc2/mc2/internal/platform/record"
)

// MiddleCare item type codes.
const (
	TypeCheckbox  = "BAC" // single yes/no checkbox
	TypeTextBlock = "BT"
	TypeSummary   = "RESUME"
	TypeNotes     = "NOTES"
	TypeList      = "LD"  // single-choice list
	TypeMultiList = "LDM" // multi-choice list
	TypeText      = "TXT"
	TypeSeparator = "SEC"
)

// OptionDateCalendar marks a TXT item rendered as a date picker.
const OptionDateCalendar = "D_CALENDAR"

// Detail-sheet page names carry this prefix in the item's detail marker.
const detailSheetPrefix = "FICHE"

// Dossier is one clinical form definition (a "DSP").
type Dossier struct {
	ID      string
	Site    string
	Name    string
	Label   string
	OrgUnit string
	Version int
}

// Page is a named screen within a dossier, scoped to a document type.
type Page struct {
	Site         string
	DossierID    string
	DocumentType string
	Label        string
	Code         int
	Order        string
}

// Item is a single form field. Choice lists are resolved at discovery time
// and embedded in ListValues as "index, value" pairs joined by "|"; no list
// lookup happens downstream.
type Item struct {
	Site           string
	DossierID      string
	PageName       string
	PageLabel      string
	BlockNo        string
	BlockName      string
	Line           string
	ID             string
	DataType       string
	MCType         string
	Label          string
	BlockLabel     string
	SecondaryLabel string
	Detail         string
	ControlType    string
	Formula        string
	Options        string
	ListName       string
	ListValues     string
	DocumentType   string
	Version        int
}

// EffectiveID returns the item id, synthesizing one for separator items
// which have none in the source.
func (it Item) EffectiveID() string {
	if it.ID != "" {
		return it.ID
	}
	return it.MCType + "_" + it.Line
}

// HasDetailSheet reports whether the item references a nested detail sheet.
func (it Item) HasDetailSheet() bool {
	return strings.HasPrefix(strings.ToUpper(it.Detail), detailSheetPrefix)
}

// IsDateText reports whether the item is a free-text field backed by a date
// control.
func (it Item) IsDateText() bool {
	return it.MCType == TypeText && it.Options == OptionDateCalendar
}

// Choice is one entry of an enumerated list.
type Choice struct {
	Index   string
	Label   string
	Default bool
}

// ChoiceList is a named enumeration resolved from the source.
type ChoiceList struct {
	Name        string
	Description string
	Choices     []Choice
}

// Serialize renders the list in the canonical "index, value|index, value"
// form stored on items.
func (cl ChoiceList) Serialize() string {
	parts := make([]string, 0, len(cl.Choices))
	for _, c := range cl.Choices {
		parts = append(parts, c.Index+", "+c.Label)
	}
	return strings.Join(parts, "|")
}

var choicePattern = regexp.MustCompile(`^([^,]+), (.*)$`)

// ParseChoices parses a serialized choice string back into ordered choices.
// Malformed segments are skipped.
func ParseChoices(listValues string) []Choice {
	if listValues == "" {
		return nil
	}
	var out []Choice
	for _, part := range strings.Split(listValues, "|") {
		m := choicePattern.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		out = append(out, Choice{Index: m[1], Label: m[2]})
	}
	return out
}

// ChoiceIndex returns the index whose label equals value, or "" when the
// value does not appear in the serialized list.
func ChoiceIndex(listValues, value string) (string, bool) {
	for _, c := range ParseChoices(listValues) {
		if c.Label == value {
			return c.Index, true
		}
	}
	return "", false
}

// MCRecord renders the dossier in the column layout of the source metadata
// export.
func (d Dossier) MCRecord() *record.Record {
	r := record.New()
	r.Set("SITE", d.Site)
	r.Set("DOSSIER_ID", d.ID)
	r.Set("NOM", d.Name)
	r.Set("LIBELLE", d.Label)
	r.Set("UHS", d.OrgUnit)
	return r
}

// MCRecord renders the item in the column layout of the source dictionary
// export; the same layout feeds the RedCap dictionary builder.
func (it Item) MCRecord() *record.Record {
	r := record.New()
	r.Set("SITE", it.Site)
	r.Set("DOSSIER_ID", it.DossierID)
	r.Set("PAGE_NOM", it.PageName)
	r.Set("PAGE_LIBELLE", it.PageLabel)
	r.Set("BLOC_NO", it.BlockNo)
	r.Set("BLOC_LIBELLE", it.BlockName)
	r.Set("LIGNE", it.Line)
	r.Set("ITEM_ID", it.EffectiveID())
	r.Set("TYPE", it.DataType)
	r.Set("MCTYPE", it.MCType)
	r.Set("LIBELLE", it.Label)
	r.Set("LIBELLE_BLOC", it.BlockLabel)
	r.Set("LIBELLE_SECONDAIRE", it.SecondaryLabel)
	r.Set("DETAIL", it.Detail)
	r.Set("TYPE_CONTROLE", it.ControlType)
	r.Set("FORMULE", it.Formula)
	r.Set("OPTIONS", it.Options)
	r.Set("LIST_NOM", it.ListName)
	r.Set("LIST_VALUES", it.ListValues)
	return r
}
