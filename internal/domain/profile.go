package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrProfileIncomplete is returned when a profile is missing a required field.
var ErrProfileIncomplete = errors.New("domain: profile incomplete")

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale
}

type ActivityLevel string

const (
	ActivitySedentary  ActivityLevel = "sedentary"
	ActivityLight      ActivityLevel = "light"
	ActivityModerate   ActivityLevel = "moderate"
	ActivityActive     ActivityLevel = "active"
	ActivityVeryActive ActivityLevel = "very_active"
)

func (a ActivityLevel) Valid() bool {
	switch a {
	case ActivitySedentary, ActivityLight, ActivityModerate, ActivityActive, ActivityVeryActive:
		return true
	}
	return false
}

// UserProfile describes the user the advice is personalized for. Values are
// only obtained through ProfileDraft.Complete, so every field is populated.
type UserProfile struct {
	Age           int
	Gender        Gender
	Weight        float64 // kilograms
	Height        float64 // centimeters
	ActivityLevel ActivityLevel
	Goal          string
}

// ProfileDraft is the raw profile as submitted by the profile form.
type ProfileDraft struct {
	Age           int     `json:"age"`
	Gender        string  `json:"gender"`
	Weight        float64 `json:"weight"`
	Height        float64 `json:"height"`
	ActivityLevel string  `json:"activityLevel"`
	Goal          string  `json:"goal"`
}

// Complete validates the draft and returns the immutable profile.
// The returned error wraps ErrProfileIncomplete and names the first bad field.
func (d ProfileDraft) Complete() (UserProfile, error) {
	gender := Gender(strings.TrimSpace(d.Gender))
	level := ActivityLevel(strings.TrimSpace(d.ActivityLevel))
	goal := strings.TrimSpace(d.Goal)

	switch {
	case d.Age <= 0:
		return UserProfile{}, incomplete("age")
	case !gender.Valid():
		return UserProfile{}, incomplete("gender")
	case d.Weight <= 0:
		return UserProfile{}, incomplete("weight")
	case d.Height <= 0:
		return UserProfile{}, incomplete("height")
	case !level.Valid():
		return UserProfile{}, incomplete("activityLevel")
	case goal == "":
		return UserProfile{}, incomplete("goal")
	}

	return UserProfile{
		Age:           d.Age,
		Gender:        gender,
		Weight:        d.Weight,
		Height:        d.Height,
		ActivityLevel: level,
		Goal:          goal,
	}, nil
}

func incomplete(field string) error {
	return fmt.Errorf("%w: %s", ErrProfileIncomplete, field)
}
