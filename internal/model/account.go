package model

import "time"

type Plan string

const (
	PlanHobby Plan = "HOBBY"
	PlanPro   Plan = "PRO"
)

// HobbyCredits is the allotment a user starts with and returns to on
// downgrade.
const HobbyCredits = 2

type User struct {
	ID        string    `json:"id"`
	Plan      Plan      `json:"plan"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}

type App struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
