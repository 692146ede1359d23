package models

import (
	"time"
)

// EmploymentType classifies how stable a user's income source is.
type EmploymentType string

const (
	EmploymentSalaried EmploymentType = "salaried"
	EmploymentGig      EmploymentType = "gig"
	EmploymentBusiness EmploymentType = "business"
	EmploymentStudent  EmploymentType = "student"
	EmploymentRetired  EmploymentType = "retired"
)

// Valid reports whether e is one of the known employment types.
func (e EmploymentType) Valid() bool {
	switch e {
	case EmploymentSalaried, EmploymentGig, EmploymentBusiness, EmploymentStudent, EmploymentRetired:
		return true
	}
	return false
}

// User is the authenticated owner of a profile, transactions and conversations.
type User struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Age       int       `json:"age,omitempty"`
	Profile   Profile   `json:"profile"`
	Goals     []Goal    `json:"goals,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Goal is a savings target set through the goal-setting agent.
type Goal struct {
	GoalID            string    `json:"goalId"`
	Name              string    `json:"name"`
	TargetAmount      float64   `json:"targetAmount"`
	TimeHorizonMonths int       `json:"timeHorizonMonths"`
	Priority          string    `json:"priority"`
	MonthlyRequired   float64   `json:"monthlyRequired"`
	CreatedAt         time.Time `json:"createdAt"`
}
