package core

// Location is a place a user lives at.
type Location struct {
	ID      int64
	Name    string
	Address string
}

// NewLocation builds a transient location.
func NewLocation(name, address string) *Location {
	return &Location{Name: name, Address: address}
}
