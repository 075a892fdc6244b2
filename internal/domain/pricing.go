package domain

import "time"

const (
	YouthAgeLimit  = 26
	SeniorAgeLimit = 60
)

// ResolvePrice picks the first matching tier: youth, senior, then base.
func ResolvePrice(p PriceTiers, age int) int64 {
	if p.Youth != nil && age < YouthAgeLimit {
		return *p.Youth
	}
	if p.Senior != nil && age >= SeniorAgeLimit {
		return *p.Senior
	}
	return p.Base
}

// AgeAt returns the number of whole years between birth and now.
func AgeAt(birth, now time.Time) int {
	birth = birth.In(now.Location())
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() ||
		(now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}
