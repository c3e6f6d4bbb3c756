package models

// Stats is the admin dashboard aggregate.
type Stats struct {
	Users struct {
		Total   int64 `json:"total"`
		Active  int64 `json:"active"`
		Blocked int64 `json:"blocked"`
	} `json:"users"`
	Books struct {
		Active    int64 `json:"active"`
		Available int64 `json:"available"`
	} `json:"books"`
	Swaps         map[SwapStatus]int64 `json:"swaps"`
	ActiveReviews int64                `json:"activeReviews"`
}
