package domain

// Candidate is what a provider adapter's search returns: one item it claims
// satisfies the query. source_id must be unique within provider_key.
type Candidate struct {
	ProviderKey         string
	ProviderDisplayName string
	Title               string
	Creators            []string
	Date                string
	SourceID            string
	ItemURL             string
	IIIFManifestURL     string
	DownloadHint        any
	RawMetadata         map[string]any
}

// ScoredCandidate is a Candidate annotated with the selector's scoring.
type ScoredCandidate struct {
	Candidate
	TitleScore   float64
	CreatorScore float64
	QualityBonus float64
	Total        float64
}

// RejectedCandidate records a candidate the selector dropped and why, kept
// in work.json for diagnosability even though it never ran.
type RejectedCandidate struct {
	Candidate Candidate
	Reason    string
}

// Selection is the selector's final verdict for one work: a primary
// candidate plus an ordered fallback list, in the exact order the scheduler
// must attempt them.
type Selection struct {
	Primary   ScoredCandidate
	Fallbacks []ScoredCandidate
	Rejected  []RejectedCandidate
}

// HasPrimary reports whether the selector found an acceptable candidate.
func (s *Selection) HasPrimary() bool {
	return s != nil && s.Primary.SourceID != ""
}

// Ordered returns primary followed by fallbacks, the strict attempt order
// the scheduler must honor for a single work (spec §5 ordering guarantee).
func (s *Selection) Ordered() []ScoredCandidate {
	if s == nil || !s.HasPrimary() {
		return nil
	}
	out := make([]ScoredCandidate, 0, 1+len(s.Fallbacks))
	out = append(out, s.Primary)
	out = append(out, s.Fallbacks...)
	return out
}
