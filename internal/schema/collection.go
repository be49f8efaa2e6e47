package schema

import (
	"fmt"
	"regexp"
)

// Default collection names used by the storefront.
const (
	Products  = "products"
	Orders    = "orders"
	Customers = "customers"
	Expenses  = "expenses"
	Settings  = "settings"
)

var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Collection is a named, homogeneous set of records.
type Collection struct {
	Name string

	// Settings collections additionally record which user wrote each row.
	Settings bool
}

// Validate checks the collection name is safe to use as a table name.
func (c Collection) Validate() error {
	return ValidateName(c.Name)
}

// ValidateName checks a collection name against the allowed identifier format.
func ValidateName(name string) error {
	if !collectionName.MatchString(name) {
		return fmt.Errorf("invalid collection name %q: must match %s", name, collectionName.String())
	}
	return nil
}

// DefaultCollections returns the collections every storefront syncs.
func DefaultCollections() []Collection {
	return []Collection{
		{Name: Products},
		{Name: Orders},
		{Name: Customers},
		{Name: Expenses},
		{Name: Settings, Settings: true},
	}
}

// BuildCollections turns configured names into collections, marking the
// settings ones.
func BuildCollections(names, settings []string) ([]Collection, error) {
	isSettings := make(map[string]bool, len(settings))
	for _, name := range settings {
		isSettings[name] = true
	}

	seen := make(map[string]bool, len(names))
	out := make([]Collection, 0, len(names))
	for _, name := range names {
		if err := ValidateName(name); err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate collection %q", name)
		}
		seen[name] = true
		out = append(out, Collection{Name: name, Settings: isSettings[name]})
	}
	return out, nil
}
