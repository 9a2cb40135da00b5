package domain

import "fmt"

// Metadata is the storage identity of a persistent record: the surrogate key
// assigned by the store and the optimistic-lock version. It is a value; a
// record's metadata is replaced on every write, never mutated.
type Metadata struct {
	Identity int64 `json:"identity"`
	Version  int64 `json:"version"`
}

// NewMetadata returns a pointer to a fresh metadata value.
func NewMetadata(identity, version int64) *Metadata {
	return &Metadata{Identity: identity, Version: version}
}

// Next returns the metadata a record carries after one successful update.
func (m Metadata) Next() Metadata {
	return Metadata{Identity: m.Identity, Version: m.Version + 1}
}

func (m Metadata) String() string {
	return fmt.Sprintf("Metadata(identity=%d, version=%d)", m.Identity, m.Version)
}
