package enums

import "fmt"

// BlobStatus describes the lifecycle of a stored variant object.
type BlobStatus string

const (
	BlobStatusReady           BlobStatus = "ready"
	BlobStatusDeleteRequested BlobStatus = "delete_requested"
)

var validBlobStatuses = []BlobStatus{
	BlobStatusReady,
	BlobStatusDeleteRequested,
}

// String returns the literal string for the status.
func (b BlobStatus) String() string {
	return string(b)
}

// IsValid reports whether the status is known.
func (b BlobStatus) IsValid() bool {
	for _, candidate := range validBlobStatuses {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBlobStatus converts raw input into a BlobStatus.
func ParseBlobStatus(value string) (BlobStatus, error) {
	for _, candidate := range validBlobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid blob status %q", value)
}
