package model

import "strings"

// BusinessSubject is the business being published. It is owned by the
// external business-record store; the pipeline only reads it.
type BusinessSubject struct {
	Name        string    `json:"name"`
	URL         string    `json:"url,omitempty"`
	Industry    string    `json:"industry,omitempty"`
	LegalForm   string    `json:"legal_form,omitempty"`
	Location    *Location `json:"location,omitempty"`
	FoundedYear int       `json:"founded_year,omitempty"`
	ExistingID  string    `json:"existing_id,omitempty"` // Canonical identifier from a previous publish
}

// Location is the subject's physical location
type Location struct {
	City    string   `json:"city,omitempty"`
	State   string   `json:"state,omitempty"`
	Country string   `json:"country,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are known
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Lat != nil && l.Lng != nil
}

// CityKey returns the free-text city lookup key ("city, state" or "city")
func (l *Location) CityKey() string {
	if l == nil || strings.TrimSpace(l.City) == "" {
		return ""
	}
	if strings.TrimSpace(l.State) == "" {
		return l.City
	}
	return l.City + ", " + l.State
}

// CrawlData holds attributes extracted from the subject's website
type CrawlData struct {
	SourceURL   string   `json:"source_url,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Email       string   `json:"email,omitempty"`
	Address     string   `json:"address,omitempty"`
	Services    []string `json:"services,omitempty"`
	SocialLinks []string `json:"social_links,omitempty"`
}
