package model

// OSMBoundary is an administrative boundary relation returned by Overpass.
type OSMBoundary struct {
	RelationID int64             `json:"relation_id"`
	Name       string            `json:"name"`
	AdminLevel string            `json:"admin_level"`
	ISOCode    string            `json:"iso_code"`
	Tags       map[string]string `json:"tags"`
}

// IsCountry reports whether the relation is a national boundary with an ISO 3166-1 code.
func (b OSMBoundary) IsCountry() bool {
	return b.AdminLevel == "2" && b.ISOCode != ""
}
