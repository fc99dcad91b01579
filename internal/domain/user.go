package domain

import "time"

// User is the profile document stored under users/{uid}.
type User struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	Role        Role      `json:"role"`
	JoinDate    time.Time `json:"joinDate"`
	TotalOrders int       `json:"totalOrders"`
	TotalSpent  float64   `json:"totalSpent"`
}
