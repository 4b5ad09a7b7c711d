// Package discrepancy implements the taxonomic discrepancy handling
// described in spec §4.5: when a sequence's header, its accession
// mapping, and the taxonomy tree disagree on its taxon, the engine records
// a Discrepancy and resolves it per policy rather than blocking ingest.
package discrepancy

import (
	"strconv"

	"github.com/prn-tf/sequoia/internal/hashid"
)

// Resolution names which signal (or manual override) won for a
// discrepant sequence.
type Resolution string

const (
	UseHeader   Resolution = "use_header"
	UseMapping  Resolution = "use_mapping"
	UseTaxonomy Resolution = "use_taxonomy"
	ManualPrefix Resolution = "manual:" // Manual appends the chosen TaxonId's decimal form.
)

// Manual builds a Resolution recording an operator override.
func Manual(tax hashid.TaxonId) Resolution {
	return Resolution(ManualPrefix) + resolutionTaxon(tax)
}

// Policy selects how disagreements are resolved by default (spec §4.5:
// "The default policy is UseMapping; policies are selected per-ingest").
type Policy string

const (
	PolicyUseHeader   Policy = Policy(UseHeader)
	PolicyUseMapping  Policy = Policy(UseMapping)
	PolicyUseTaxonomy Policy = Policy(UseTaxonomy)
)

// DefaultPolicy is UseMapping per spec §4.5.
const DefaultPolicy = PolicyUseMapping

// Discrepancy records a single taxonomic disagreement for audit.
type Discrepancy struct {
	Accession     string          `json:"accession"`
	HeaderTaxon   hashid.TaxonId  `json:"header_taxon"`
	MappingTaxon  hashid.TaxonId  `json:"mapping_taxon"`
	TreeTaxon     hashid.TaxonId  `json:"tree_taxon"`
	Resolution    Resolution      `json:"resolution"`
	Resolved      hashid.TaxonId  `json:"resolved_taxon"`
}

// Signals is the three taxonomic signals the engine may receive for one
// accession (spec §4.5: "from the parsed FASTA header, from an
// accession-to-taxon mapping file, from the canonical taxonomy tree").
// A signal is "absent" when its HasValue is false, which is distinct from
// Unclassified (TaxonId 0), which is itself a valid, classified answer of
// "no taxon assigned".
type Signals struct {
	Header    hashid.TaxonId
	HasHeader bool

	Mapping    hashid.TaxonId
	HasMapping bool

	Tree    hashid.TaxonId
	HasTree bool
}

// Agree reports whether every present signal names the same taxon.
func (s Signals) Agree() bool {
	var have bool
	var val hashid.TaxonId
	for _, sig := range []struct {
		v  hashid.TaxonId
		ok bool
	}{{s.Header, s.HasHeader}, {s.Mapping, s.HasMapping}, {s.Tree, s.HasTree}} {
		if !sig.ok {
			continue
		}
		if !have {
			val, have = sig.v, true
			continue
		}
		if sig.v != val {
			return false
		}
	}
	return true
}

// Resolve applies policy to s, returning the resolved TaxonId and, if the
// signals disagreed, a populated Discrepancy record for the audit log.
// When only a subset of signals is present, resolution falls back through
// the remaining signals in Mapping > Header > Tree order regardless of
// policy, since a policy can only choose among signals that exist.
func Resolve(accession string, s Signals, policy Policy) (hashid.TaxonId, *Discrepancy) {
	if s.Agree() {
		return firstPresent(s), nil
	}

	resolved, resolution := applyPolicy(s, policy)
	d := &Discrepancy{
		Accession:  accession,
		Resolution: resolution,
		Resolved:   resolved,
	}
	if s.HasHeader {
		d.HeaderTaxon = s.Header
	}
	if s.HasMapping {
		d.MappingTaxon = s.Mapping
	}
	if s.HasTree {
		d.TreeTaxon = s.Tree
	}
	return resolved, d
}

func applyPolicy(s Signals, policy Policy) (hashid.TaxonId, Resolution) {
	switch policy {
	case PolicyUseHeader:
		if s.HasHeader {
			return s.Header, UseHeader
		}
	case PolicyUseTaxonomy:
		if s.HasTree {
			return s.Tree, UseTaxonomy
		}
	case PolicyUseMapping:
		if s.HasMapping {
			return s.Mapping, UseMapping
		}
	}
	// Fall back through whatever signals exist, in a fixed order, so a
	// discrepancy is never left unresolved just because the configured
	// policy's preferred signal happened to be absent.
	if s.HasMapping {
		return s.Mapping, UseMapping
	}
	if s.HasHeader {
		return s.Header, UseHeader
	}
	if s.HasTree {
		return s.Tree, UseTaxonomy
	}
	return hashid.Unclassified, UseMapping
}

func firstPresent(s Signals) hashid.TaxonId {
	switch {
	case s.HasHeader:
		return s.Header
	case s.HasMapping:
		return s.Mapping
	case s.HasTree:
		return s.Tree
	default:
		return hashid.Unclassified
	}
}

func resolutionTaxon(tax hashid.TaxonId) Resolution {
	return Resolution(strconv.FormatUint(uint64(tax), 10))
}
