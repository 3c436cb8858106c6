package pcr

import (
	"errors"
	"fmt"
	"regexp"
)

// Placeholder fids written into the catalog when none can be derived.
const (
	NoFID  = "NoFID"
	NoLink = "NoLink"
)

// ErrNoFID is returned when no document identifier can be derived.
var ErrNoFID = errors.New("no fid found")

const guid = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`

var (
	filenameFID = regexp.MustCompile(`^(` + guid + `)`)
	linkParam   = regexp.MustCompile(`fid=([^&]+)`)
	exactGUID   = regexp.MustCompile(`^` + guid + `$`)
)

// FIDFromFilename returns the GUID prefix of a downloaded file named
// "{fid}-{name}.pdf".
func FIDFromFilename(name string) (string, error) {
	m := filenameFID.FindStringSubmatch(name)
	if m == nil {
		return "", fmt.Errorf("%w: file %q", ErrNoFID, name)
	}
	return m[1], nil
}

// FIDFromLink returns the fid query parameter of a download link. The value
// must be exactly a GUID.
func FIDFromLink(link string) (string, error) {
	m := linkParam.FindStringSubmatch(link)
	if m == nil {
		return "", fmt.Errorf("%w: no fid parameter in %q", ErrNoFID, link)
	}
	if !exactGUID.MatchString(m[1]) {
		return "", fmt.Errorf("%w: fid parameter %q is not a GUID", ErrNoFID, m[1])
	}
	return m[1], nil
}

// IsPlaceholder reports whether fid is empty or one of the placeholders.
func IsPlaceholder(fid string) bool {
	return fid == "" || fid == NoFID || fid == NoLink
}
