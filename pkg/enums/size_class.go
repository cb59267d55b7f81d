package enums

import "fmt"

// SizeClass is the closed set of rendered image variants.
type SizeClass string

const (
	SizeClassThumbnail SizeClass = "thumbnail"
	SizeClassMedium    SizeClass = "medium"
	SizeClassFull      SizeClass = "full"
)

// SizeClasses lists every variant, smallest first. Variant sets and descriptor
// listings follow this order.
var SizeClasses = []SizeClass{
	SizeClassThumbnail,
	SizeClassMedium,
	SizeClassFull,
}

// PrimaryPreference is the order used when picking which variant carries the
// primary flag: medium, then full, then thumbnail.
var PrimaryPreference = []SizeClass{
	SizeClassMedium,
	SizeClassFull,
	SizeClassThumbnail,
}

// String returns the literal string for the size class.
func (s SizeClass) String() string {
	return string(s)
}

// IsValid reports whether the size class is known.
func (s SizeClass) IsValid() bool {
	return s.Rank() >= 0
}

// Rank is the position in SizeClasses, or -1 for unknown values.
func (s SizeClass) Rank() int {
	for i, candidate := range SizeClasses {
		if candidate == s {
			return i
		}
	}
	return -1
}

// ParseSizeClass converts raw input into a SizeClass.
func ParseSizeClass(value string) (SizeClass, error) {
	for _, candidate := range SizeClasses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid size class %q", value)
}
