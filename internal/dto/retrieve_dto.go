package dto

type RetrieveRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}
