package model

// Page is the extracted text of one page, numbered from 1.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}
