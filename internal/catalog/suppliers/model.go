package suppliers

import "time"

// Supplier is a vendor that purchase orders are raised against.
type Supplier struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	ContactName  string    `json:"contact_name"`
	ContactEmail string    `json:"contact_email"`
	Phone        string    `json:"phone"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
