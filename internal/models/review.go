package models

type Review struct {
	ReviewerID string `json:"reviewer_id"`
	ListingID  string `json:"reviewed_product_id"`
	Rating     int    `json:"rating"`
	Text       string `json:"text,omitempty"`
}

// Key is the dedup key: one review per (reviewer, listing) pair is displayed.
func (r Review) Key() string {
	return r.ReviewerID + "|" + r.ListingID
}
