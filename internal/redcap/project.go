// Package redcap builds RedCap data dictionaries from dossier definitions
// and transcodes mirror rows into RedCap import records.
package redcap

import "strings"

// Instrument names of the generated project. The shared instrument carries
// patient identity, the main instrument everything else.
const (
	SharedInstrument = "shared"
	MainInstrument   = "dsp"
)

// SharedVariableCount is the number of identity variables following the
// record id in every longitudinal row (NIP, NOM, PRENOM, DATNAI, SEXE).
const SharedVariableCount = 5

// Reserved RedCap import columns inserted after the record id in
// longitudinal rows.
const (
	ColumnEventName        = "redcap_event_name"
	ColumnRepeatInstrument = "redcap_repeat_instrument"
	ColumnRepeatInstance   = "redcap_repeat_instance"
)

// Instrument names a RedCap form. A non-empty ItemNames list restricts the
// instrument to those dossier items.
type Instrument struct {
	Name      string
	ItemNames []string
}

// Project describes the target RedCap project layout: one arm, one
// non-repeating event holding patient identity and one repeating event
// holding the documents.
type Project struct {
	ArmName             string
	SharedEventName     string
	RepeatableEventName string
	Longitudinal        bool
	// MainInstrument optionally names the main form and restricts it to an
	// item allow-list; items outside the list land on their own page's form.
	MainInstrument Instrument
	// MainInstrumentOnly drops every item outside the main instrument's
	// allow-list from the dictionary.
	MainInstrumentOnly bool
	// EventAsDocumentType switches the repeating-event layout to one event
	// per document type, with item variables suffixed by their type.
	EventAsDocumentType bool
}

// UniqueSharedEventName returns the unique event name RedCap derives for the
// shared event.
func (p Project) UniqueSharedEventName() string {
	return uniqueEventName(p.SharedEventName, p.ArmName)
}

// UniqueRepeatableEventName returns the unique event name RedCap derives for
// the repeating document event.
func (p Project) UniqueRepeatableEventName() string {
	return uniqueEventName(p.RepeatableEventName, p.ArmName)
}

func uniqueEventName(event, arm string) string {
	return cleanName(event) + "_" + cleanName(arm)
}

func cleanName(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}
