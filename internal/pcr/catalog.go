package pcr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// CatalogEntry is one object of the scraped catalog JSON array. It is kept as
// a map so that every scraped field survives into index metadata.
type CatalogEntry map[string]any

func (e CatalogEntry) str(key string) string {
	s, _ := e[key].(string)
	return s
}

// FID returns the entry's fid, or "" when unset.
func (e CatalogEntry) FID() string { return e.str(KeyFID) }

// DownloadLink returns the entry's download link.
func (e CatalogEntry) DownloadLink() string { return e.str(KeyDownloadLink) }

// Record converts the entry to a Record.
func (e CatalogEntry) Record() Record { return RecordFromMetadata(e) }

// LoadCatalog decodes a catalog JSON array.
func LoadCatalog(r io.Reader) ([]CatalogEntry, error) {
	var entries []CatalogEntry
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	return entries, nil
}

// WriteCatalog encodes entries as an indented JSON array without escaping
// non-ASCII text.
func WriteCatalog(w io.Writer, entries []CatalogEntry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	return nil
}

// AssignFIDs sets each entry's fid from its download link. Entries without a
// link get NoLink. Entries whose link carries no valid fid are left unchanged
// and reported in the joined error. It returns the number of fids assigned.
func AssignFIDs(entries []CatalogEntry) (int, error) {
	var (
		assigned int
		errs     []error
	)
	for i, e := range entries {
		link := e.DownloadLink()
		if link == "" {
			e[KeyFID] = NoLink
			continue
		}
		fid, err := FIDFromLink(link)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d (%s): %w", i, e.str(KeyRegNo), err))
			continue
		}
		e[KeyFID] = fid
		assigned++
	}
	return assigned, errors.Join(errs...)
}

// IndexByFID keys entries by fid, skipping empty and placeholder fids. Later
// duplicates win.
func IndexByFID(entries []CatalogEntry) map[string]CatalogEntry {
	out := make(map[string]CatalogEntry, len(entries))
	for _, e := range entries {
		if fid := e.FID(); !IsPlaceholder(fid) {
			out[fid] = e
		}
	}
	return out
}
