package models

import "time"

const ListingSold = "sold"

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ListingRef struct {
	ID     string `json:"id"`
	Slug   string `json:"slug"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status"`
}

type Conversation struct {
	ID        string      `json:"id"`
	Listing   ListingRef  `json:"listing"`
	Buyer     Participant `json:"buyer"`
	Seller    Participant `json:"seller"`
	CreatedAt time.Time   `json:"created_at"`
}
