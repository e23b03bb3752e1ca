// Package intern provides a string-interning arena. Each distinct string is
// stored once and referred to by a Handle; two handles are equal iff the
// strings they stand for are equal.
package intern

// Handle refers to a string stored in a Table. The zero Handle is the
// empty string in every Table.
type Handle uint32

// Table string arena
type Table struct {
	strs  []string
	index map[string]Handle
}

// New creates a table which already holds the empty string at Handle 0.
func New() *Table {
	return &Table{
		strs:  []string{""},
		index: map[string]Handle{"": 0},
	}
}

// Intern returns the handle of s, adding s to the table if needed.
func (t *Table) Intern(s string) Handle {
	if h, ok := t.index[s]; ok {
		return h
	}
	h := Handle(len(t.strs))
	t.strs = append(t.strs, s)
	t.index[s] = h
	return h
}

// Lookup returns the handle of s without adding it.
func (t *Table) Lookup(s string) (Handle, bool) {
	h, ok := t.index[s]
	return h, ok
}

// String returns the string that h stands for.
func (t *Table) String(h Handle) string {
	return t.strs[h]
}

// Len returns the number of distinct strings, the empty string included.
func (t *Table) Len() int {
	return len(t.strs)
}
