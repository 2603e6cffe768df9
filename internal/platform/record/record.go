package record

// Record is an ordered string-keyed row. The source schema is only known at
// runtime, so extracted rows and transcoded output are carried as generic
// records whose column order is significant for CSV serialization.
type Record struct {
	keys []string
	vals map[string]string
}

func New() *Record {
	return &Record{vals: make(map[string]string)}
}

// Set stores a value, appending the key to the column order on first use.
func (r *Record) Set(key, val string) {
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = val
}

// Get returns the value for key and whether the column is present.
func (r *Record) Get(key string) (string, bool) {
	v, ok := r.vals[key]
	return v, ok
}

// Value returns the value for key, or "" when the column is absent.
func (r *Record) Value(key string) string {
	return r.vals[key]
}

// Keys returns the column names in insertion order. The returned slice is
// shared; callers must not mutate it.
func (r *Record) Keys() []string {
	return r.keys
}

func (r *Record) Len() int {
	return len(r.keys)
}

// Merge copies every field of other into r: existing columns are overwritten
// in place, new columns are appended in other's order.
func (r *Record) Merge(other *Record) {
	for _, k := range other.keys {
		r.Set(k, other.vals[k])
	}
}

// Clone returns an independent copy.
func (r *Record) Clone() *Record {
	c := New()
	c.Merge(r)
	return c
}

// Reorder returns a new record holding exactly the given columns in the given
// order. Columns absent from r come out empty.
func (r *Record) Reorder(columns []string) *Record {
	out := New()
	for _, c := range columns {
		out.Set(c, r.vals[c])
	}
	return out
}
