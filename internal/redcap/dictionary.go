package redcap

import (
	"strings"

	"github.com/mc2/mc2/internal/domain/dossier"
	"github.com/mc2/mc2/internal/platform/record"
)

// RedCap field types used by the generated dictionary.
const (
	FieldText        = "text"
	FieldNotes       = "notes"
	FieldDropdown    = "dropdown"
	FieldCheckbox    = "checkbox"
	FieldYesNo       = "yesno"
	FieldDescriptive = "descriptive"
)

// ValidationDateYMD is the text validation applied to calendar-backed text
// items.
const ValidationDateYMD = "date_ymd"

// Field is one row of a RedCap data dictionary.
type Field struct {
	VariableName      string
	FormName          string
	SectionHeader     string
	FieldType         string
	FieldLabel        string
	Choices           string
	FieldNote         string
	TextValidation    string
	TextValidationMin string
	TextValidationMax string
	Identifier        string
	BranchingLogic    string
	RequiredField     string
	CustomAlignment   string
	QuestionNumber    string
	MatrixGroupName   string
	MatrixRanking     string
	Annotation        string
}

// dictionaryColumns is the standard RedCap dictionary CSV header.
var dictionaryColumns = []string{
	"Variable / Field Name",
	"Form Name",
	"Section Header",
	"Field Type",
	"Field Label",
	"Choices, Calculations, OR Slider Labels",
	"Field Note",
	"Text Validation Type OR Show Slider Number",
	"Text Validation Min",
	"Text Validation Max",
	"Identifier?",
	"Branching Logic (Show field only if...)",
	"Required Field?",
	"Custom Alignment",
	"Question Number (surveys only)",
	"Matrix Group Name",
	"Matrix Ranking?",
	"Field Annotation",
}

// Record renders the field as one dictionary CSV row.
func (f Field) Record() *record.Record {
	r := record.New()
	vals := []string{
		f.VariableName, f.FormName, f.SectionHeader, f.FieldType, f.FieldLabel,
		f.Choices, f.FieldNote, f.TextValidation, f.TextValidationMin,
		f.TextValidationMax, f.Identifier, f.BranchingLogic, f.RequiredField,
		f.CustomAlignment, f.QuestionNumber, f.MatrixGroupName, f.MatrixRanking,
		f.Annotation,
	}
	for i, col := range dictionaryColumns {
		r.Set(col, vals[i])
	}
	return r
}

// Dictionary is a complete generated data dictionary.
type Dictionary struct {
	Project  Project
	MainForm string
	Fields   []Field
}

var fieldNameReplacer = strings.NewReplacer(
	" ", "_", "à", "a", "â", "a", "é", "e", "è", "e", "ê", "e", "ç", "c", "'", "",
)

// CleanFieldName normalizes an item id into a valid RedCap variable name.
func CleanFieldName(name string) string {
	return fieldNameReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))
}

// CleanFormName normalizes an instrument name the way RedCap does when it
// derives the form's _complete column.
func CleanFormName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	// RedCap strips a single leading digit from form names
	if len(s) > 0 && s[0] >= '0' && s[0] <= '9' {
		s = s[1:]
	}
	return s
}

// CompleteColumn returns the instrument's completion status column name.
func CompleteColumn(formName string) string {
	return CleanFormName(formName) + "_complete"
}

// sharedVar is one synthesized field of the fixed identity and document
// metadata blocks opening every dictionary.
type sharedVar struct {
	ID    string
	Label string
}

// sharedIdentityVars is the identity block of every export: the record id
// followed by the patient descriptors of the shared event.
var sharedIdentityVars = []sharedVar{
	{"IPP", "IPP"}, {"NIP", "NIP"}, {"NOM", "Nom"}, {"PRENOM", "Prénom"},
	{"DATNAI", "Date de naissance"}, {"SEXE", "Sexe"},
}

// documentVars is the fixed document metadata block of the main instrument.
var documentVars = []sharedVar{
	{"NIPRO", "NIPRO"}, {"AGE", "Age"}, {"POIDS", "Poids"}, {"TAILLE", "Taille"},
	{"TYPE_EXAM", "Type Examen"}, {"VENUE", "N° Venue"},
	{"DATE_EXAM", "Date Examen"}, {"DATE_MAJ", "Date MAJ"}, {"OPER", "Opérateur"},
}

func sharedField(v sharedVar, form string) Field {
	f := Field{
		VariableName: CleanFieldName(v.ID),
		FormName:     form,
		FieldType:    FieldText,
		FieldLabel:   v.Label,
	}
	if strings.HasPrefix(v.Label, "Date") {
		f.TextValidation = ValidationDateYMD
		f.FieldNote = "YYYY-MM-DD"
	}
	return f
}

// BuildDictionary generates the data dictionary for one dossier. The field
// order is: the synthesized identity and document blocks, then the main
// instrument's items, then every remaining item on its own page's form.
//
// In longitudinal mode the identity block lands on its own shared instrument
// and the document block opens the main instrument; in flat mode both merge
// into the main instrument with the document id first. When the project's
// main instrument carries an item allow-list, listed items have their form
// forced to the main instrument and the rest keep their page association,
// unless the project is main-instrument-only, in which case they are dropped.
// With EventAsDocumentType set, item variables are emitted once per document
// type carrying that item, suffixed with the type, and pages of code 4 are
// left out.
func BuildDictionary(p Project, mainForm string, items []dossier.Item, pages []dossier.Page) *Dictionary {
	if p.MainInstrument.Name != "" {
		mainForm = p.MainInstrument.Name
	}
	d := &Dictionary{Project: p, MainForm: CleanFormName(mainForm)}

	if p.Longitudinal {
		for _, v := range sharedIdentityVars {
			d.Fields = append(d.Fields, sharedField(v, CleanFormName(SharedInstrument)))
		}
		for _, v := range documentVars {
			d.Fields = append(d.Fields, sharedField(v, d.MainForm))
		}
	} else {
		// flat layout leads with the document id
		d.Fields = append(d.Fields, sharedField(documentVars[0], d.MainForm))
		for _, v := range sharedIdentityVars {
			d.Fields = append(d.Fields, sharedField(v, d.MainForm))
		}
		for _, v := range documentVars[1:] {
			d.Fields = append(d.Fields, sharedField(v, d.MainForm))
		}
	}

	if p.EventAsDocumentType {
		items = expandByDocumentType(items, pages)
	}
	main, others := splitByInstrument(items, p.MainInstrument.ItemNames)

	// section headers open on the first field of each block, tracked
	// independently for the main instrument and the other instruments
	mainSections := map[string]bool{}
	otherSections := map[string]bool{}
	for _, it := range main {
		f := fieldFor(it)
		f.FormName = d.MainForm
		if it.BlockLabel != "" && !mainSections[it.BlockLabel] {
			f.SectionHeader = it.BlockLabel
			mainSections[it.BlockLabel] = true
		}
		d.Fields = append(d.Fields, f)
	}
	if !p.MainInstrumentOnly {
		for _, it := range others {
			f := fieldFor(it)
			f.FormName = CleanFormName(it.PageLabel)
			if it.BlockLabel != "" && !otherSections[it.BlockLabel] {
				f.SectionHeader = it.BlockLabel
				otherSections[it.BlockLabel] = true
			}
			d.Fields = append(d.Fields, f)
		}
	}
	return d
}

// splitByInstrument partitions items into the main instrument's allow-list
// and the rest. Without an allow-list every item belongs to the main
// instrument. Type-suffixed ids from document-type expansion match on their
// base id.
func splitByInstrument(items []dossier.Item, itemNames []string) (main, others []dossier.Item) {
	if len(itemNames) == 0 {
		return items, nil
	}
	allowed := make(map[string]bool, len(itemNames))
	for _, n := range itemNames {
		allowed[strings.ToUpper(n)] = true
	}
	for _, it := range items {
		id := it.EffectiveID()
		if it.DocumentType != "" {
			id = strings.TrimSuffix(id, "_"+it.DocumentType)
		}
		if allowed[strings.ToUpper(id)] {
			main = append(main, it)
		} else {
			others = append(others, it)
		}
	}
	return main, others
}

// expandByDocumentType clones each item once per document type whose pages
// host it. The clone's variable takes the type as suffix, its section becomes
// the page label and its page becomes the type itself.
func expandByDocumentType(items []dossier.Item, pages []dossier.Page) []dossier.Item {
	var out []dossier.Item
	for _, pg := range pages {
		if pg.Code == 4 {
			continue
		}
		for _, it := range items {
			if !strings.EqualFold(it.PageLabel, pg.Label) {
				continue
			}
			clone := it
			clone.ID = it.EffectiveID() + "_" + pg.DocumentType
			clone.BlockLabel = it.PageLabel
			clone.PageLabel = pg.DocumentType
			clone.DocumentType = pg.DocumentType
			out = append(out, clone)
		}
	}
	return out
}

// fieldFor maps one item definition to its dictionary field.
func fieldFor(it dossier.Item) Field {
	f := Field{
		VariableName: CleanFieldName(it.EffectiveID()),
		FieldLabel:   it.Label,
	}
	if f.FieldLabel == "" {
		f.FieldLabel = it.SecondaryLabel
	}

	switch it.MCType {
	case dossier.TypeCheckbox:
		f.FieldType = FieldYesNo
	case dossier.TypeTextBlock, dossier.TypeSummary, dossier.TypeNotes:
		f.FieldType = FieldNotes
	case dossier.TypeList:
		if it.ListValues != "" {
			f.FieldType = FieldDropdown
			f.Choices = it.ListValues
		} else {
			f.FieldType = FieldText
		}
	case dossier.TypeMultiList:
		f.FieldType = FieldCheckbox
		f.Choices = it.ListValues
	case dossier.TypeSeparator:
		f.FieldType = FieldDescriptive
		if f.FieldLabel == "" {
			f.FieldLabel = it.BlockLabel
		}
	case dossier.TypeText:
		f.FieldType = FieldText
		if it.IsDateText() {
			f.TextValidation = ValidationDateYMD
			f.FieldNote = "YYYY-MM-DD"
		}
	default:
		f.FieldType = FieldText
	}
	return f
}

// Search returns the dictionary field behind a variable name. In
// document-type mode the stored variables carry a type suffix, so a bare
// name also matches its suffixed variants and vice versa.
func (d *Dictionary) Search(name string) (Field, bool) {
	n := CleanFieldName(name)
	for _, f := range d.Fields {
		if f.VariableName == n {
			return f, true
		}
		if d.Project.EventAsDocumentType &&
			(strings.HasPrefix(f.VariableName, n+"_") || strings.HasPrefix(n, f.VariableName+"_")) {
			return f, true
		}
	}
	return Field{}, false
}

// ColumnNames returns the data column names the dictionary induces, in
// field order, with checkbox fields expanded to one column per choice.
// Duplicates collapse to their first occurrence.
func (d *Dictionary) ColumnNames() []string {
	var out []string
	seen := map[string]bool{}
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, f := range d.Fields {
		if f.FieldType == FieldCheckbox {
			for _, c := range dossier.ParseChoices(f.Choices) {
				add(f.VariableName + "___" + strings.ToLower(c.Index))
			}
			continue
		}
		add(f.VariableName)
	}
	return out
}

// FormNames returns the instrument names of the dictionary in field order,
// deduplicated. Each form induces one completion status column on import
// rows.
func (d *Dictionary) FormNames() []string {
	var out []string
	seen := map[string]bool{}
	for _, f := range d.Fields {
		if !seen[f.FormName] {
			seen[f.FormName] = true
			out = append(out, f.FormName)
		}
	}
	return out
}

// Records renders the dictionary as CSV rows.
func (d *Dictionary) Records() []*record.Record {
	out := make([]*record.Record, 0, len(d.Fields))
	for _, f := range d.Fields {
		out = append(out, f.Record())
	}
	return out
}
