package model

// Verdict is the classification of a single candidate summit.
type Verdict struct {
	SummitID int64 `json:"summit_id"`
	Pinnacle bool  `json:"pinnacle"`

	// DisqualifiedBy is the id of the higher summit that has sight of the
	// candidate. Zero when Pinnacle is true.
	DisqualifiedBy int64 `json:"disqualified_by,omitempty"`

	// Tested is the number of higher summits put through the LOS engine.
	Tested int `json:"tested,omitempty"`

	// Dominated marks candidates removed by the elimination pass rather than
	// by their own classification.
	Dominated bool `json:"dominated,omitempty"`
}
