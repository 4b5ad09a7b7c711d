package store

import (
	"encoding/json"

	"github.com/prn-tf/sequoia/internal/hashid"
)

// Representation is one named occurrence of a stored sequence body (spec
// §3 Sequence: "representations — an ordered, non-empty set of
// (accession, header_text, taxon_hint)"). A single body can be submitted
// under many accessions across many source databases without being
// stored more than once; every such submission is recorded here so
// get_sequence can hand the caller back the header text and taxon hint
// that matches its own database context (spec §4.6).
type Representation struct {
	Accession  string         `json:"accession"`
	DatabaseID string         `json:"database_id"`
	Header     string         `json:"header"`
	TaxonHint  hashid.TaxonId `json:"taxon_hint"`
}

// sameRepresentation reports whether a and b identify the same
// representation (spec §4.1: "dedup by (accession, database_id) on
// repeat puts").
func sameRepresentation(a, b Representation) bool {
	return a.Accession == b.Accession && a.DatabaseID == b.DatabaseID
}

// mergeRepresentation appends rep to existing unless a representation
// with the same (accession, database_id) is already present, in which
// case existing is returned unchanged.
func mergeRepresentation(existing []Representation, rep Representation) ([]Representation, bool) {
	for _, r := range existing {
		if sameRepresentation(r, rep) {
			return existing, false
		}
	}
	return append(existing, rep), true
}

func encodeRepresentations(reps []Representation) ([]byte, error) {
	if len(reps) == 0 {
		return nil, nil
	}
	return json.Marshal(reps)
}

func decodeRepresentations(raw []byte) ([]Representation, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var reps []Representation
	if err := json.Unmarshal(raw, &reps); err != nil {
		return nil, err
	}
	return reps, nil
}
