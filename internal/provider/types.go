// Package provider defines the records shared by extraction, classification,
// and the API layer.
package provider

import "time"

// Record is one candidate listing scraped from a results page.
type Record struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	// FullText is the lowercased text content of the listing element.
	FullText string `json:"fullText"`
}

// Classified is a Record annotated with its relevance verdict.
type Classified struct {
	Name        string `json:"name"`
	Specialty   string `json:"specialty"`
	Relevant    bool   `json:"relevant"`
	MatchedTerm string `json:"matchedTerm"`
	Snippet     string `json:"snippet"`
}

// Result summarizes a classified result set.
//
// Total always equals Relevant+Irrelevant and len(Providers).
type Result struct {
	Total      int          `json:"total"`
	Relevant   int          `json:"relevant"`
	Irrelevant int          `json:"irrelevant"`
	Accuracy   float64      `json:"accuracy"`
	Providers  []Classified `json:"providers"`
	Warning    string       `json:"warning,omitempty"`
}

// Report is the envelope returned for a completed run.
type Report struct {
	Success     bool      `json:"success"`
	Specialty   string    `json:"specialty"`
	Description string    `json:"description"`
	ZipCode     string    `json:"zipCode"`
	Timestamp   time.Time `json:"timestamp"`
	Results     Result    `json:"results"`
	SessionID   string    `json:"sessionId,omitempty"`
}

// Summary is the compact form of a Report sent as a run notification.
type Summary struct {
	SessionID string    `json:"sessionId,omitempty"`
	Specialty string    `json:"specialty"`
	ZipCode   string    `json:"zipCode"`
	Total     int       `json:"total"`
	Relevant  int       `json:"relevant"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary drops the per-provider detail from r.
func (r Report) Summary() Summary {
	return Summary{
		SessionID: r.SessionID,
		Specialty: r.Specialty,
		ZipCode:   r.ZipCode,
		Total:     r.Results.Total,
		Relevant:  r.Results.Relevant,
		Accuracy:  r.Results.Accuracy,
		Timestamp: r.Timestamp,
	}
}
