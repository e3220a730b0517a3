package parts

import "time"

// Part represents a stocked part in the catalog.
type Part struct {
	ID          int64     `json:"id"`
	PartNumber  string    `json:"part_number"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Unit        string    `json:"unit"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
