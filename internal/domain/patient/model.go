package patient

import "time"

// Patient identity is the (ID, IPP) pair: the same internal id can surface
// under different hospital-wide identifiers over time and no claim is ever
// dropped.
type Patient struct {
	ID        string // internal id (NIP)
	IPP       string // hospital-wide id, "0" when unknown
	LastName  string
	FirstName string
	BirthDate time.Time
	Sex       string
	Version   int
}

func (p *Patient) BirthDateString() string {
	if p.BirthDate.IsZero() {
		return ""
	}
	return p.BirthDate.Format("2006-01-02")
}
