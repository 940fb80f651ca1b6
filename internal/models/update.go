package models

// UpdateItem is a single entry of the local/global update lists. Report
// items with a resolved RID are the candidates the notification queue uses.
type UpdateItem struct {
	Kind      SourceKind     `json:"kind"`
	Title     string         `json:"title"`
	Emoji     string         `json:"emoji"`
	Time      string         `json:"time"`
	Lat       float64        `json:"lat"`
	Lon       float64        `json:"lon"`
	Severity  any            `json:"severity,omitempty"`
	SourceURL string         `json:"sourceUrl,omitempty"`
	RID       string         `json:"rid,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// IsCandidate reports whether the item can be reacted to.
func (u UpdateItem) IsCandidate() bool {
	return u.Kind == SourceReport && u.RID != ""
}
