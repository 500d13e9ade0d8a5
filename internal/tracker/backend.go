package tracker

// Backend persists the full set of entries.
type Backend interface {
	// Load returns every persisted entry. found is false when the backing
	// location does not exist yet.
	Load() (entries []Entry, found bool, err error)
	// Save replaces the persisted contents with entries.
	Save(entries []Entry) error
	// Location describes where entries are stored (for logs).
	Location() string
}
