package match

import "github.com/campuscrush/realtime/internal/domain"

// Compatible reports whether an actor of gender actor may like a target of
// gender target. Male likes female, female likes male, and "other" may like
// anyone. The rule is keyed on the actor, so Compatible(other, male) holds
// while Compatible(male, other) does not.
func Compatible(actor, target domain.Gender) bool {
	switch actor {
	case domain.GenderOther:
		return true
	case domain.GenderMale:
		return target == domain.GenderFemale
	case domain.GenderFemale:
		return target == domain.GenderMale
	}
	return false
}

func knownGender(g domain.Gender) bool {
	switch g {
	case domain.GenderMale, domain.GenderFemale, domain.GenderOther:
		return true
	}
	return false
}
