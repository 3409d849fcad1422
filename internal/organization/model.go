package organization

import (
	"time"

	"bloodbank-auth/internal/auth"
)

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
}

// Organization is a hospital or blood bank that admin accounts belong to.
type Organization struct {
	ID             string                `json:"id"`
	Type           auth.OrganizationType `json:"type"`
	Name           string                `json:"name"`
	Email          string                `json:"email"`
	Phone          string                `json:"phone"`
	EmergencyPhone string                `json:"emergencyPhone"`
	Address        Address               `json:"address"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

type Input struct {
	Type           auth.OrganizationType `json:"type"`
	Name           string                `json:"name"`
	Email          string                `json:"email"`
	Phone          string                `json:"phone"`
	EmergencyPhone string                `json:"emergencyPhone"`
	Address        Address               `json:"address"`
}
