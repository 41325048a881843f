package util

import (
	"regexp"
)

var (
	uuidRegex      = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	blobLabelRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)
)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuidRegex.MatchString(s)
}

// IsValidBlobLabel rejects labels that could escape the storage root or
// collide with session record files.
func IsValidBlobLabel(s string) bool {
	return blobLabelRegex.MatchString(s)
}
