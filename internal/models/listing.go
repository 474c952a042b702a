package models

// ListingImage is one media item attached to a listing.
type ListingImage struct {
	URL string `json:"url"`
}

// Listing is the summary shape returned by the public listings lookup.
type Listing struct {
	ID        string         `json:"id"`
	Slug      string         `json:"slug"`
	Title     string         `json:"title"`
	Price     float64        `json:"price"`
	Images    []ListingImage `json:"images"`
	Address   string         `json:"address"`
	City      string         `json:"city"`
	State     string         `json:"state"`
	Country   string         `json:"country"`
	Bedrooms  int            `json:"bedrooms"`
	Bathrooms int            `json:"bathrooms"`
	Type      string         `json:"type"`
	Status    string         `json:"status"` // "For Sale", "For Rent", "Preselling", "RFO"
	Featured  bool           `json:"featured"`
}

// DeepLink returns the site-relative detail page for the listing.
func (l Listing) DeepLink() string {
	if l.Slug != "" {
		return "/listing/" + l.Slug
	}
	return "/listing/" + l.ID
}

// ListingQuery carries the accumulated guided-search filters. Zero
// values mean "not set" and are omitted from the outgoing request.
type ListingQuery struct {
	Status   string
	City     string
	MaxPrice *int
	Bedrooms *int
	Featured bool
}
