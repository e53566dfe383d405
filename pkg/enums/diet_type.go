package enums

import "fmt"

// DietType marks a menu item as vegetarian or not.
type DietType string

const (
	DietTypeVeg    DietType = "veg"
	DietTypeNonVeg DietType = "non-veg"
)

var validDietTypes = []DietType{
	DietTypeVeg,
	DietTypeNonVeg,
}

// String implements fmt.Stringer.
func (d DietType) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DietType.
func (d DietType) IsValid() bool {
	for _, candidate := range validDietTypes {
		if candidate == d {
			return true
		}
	}
	return false
}

// OrDefault returns non-veg for an empty value, which is how untagged menu
// items are labelled.
func (d DietType) OrDefault() DietType {
	if d == "" {
		return DietTypeNonVeg
	}
	return d
}

// ParseDietType converts raw input into a DietType.
func ParseDietType(value string) (DietType, error) {
	for _, candidate := range validDietTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid diet type %q", value)
}
