package match

import (
	"testing"

	"github.com/campuscrush/realtime/internal/domain"
)

func TestCompatible(t *testing.T) {
	const (
		m = domain.GenderMale
		f = domain.GenderFemale
		o = domain.GenderOther
	)
	tests := []struct {
		actor, target domain.Gender
		want          bool
	}{
		{m, f, true},
		{f, m, true},
		{m, m, false},
		{f, f, false},
		{o, m, true},
		{o, f, true},
		{o, o, true},
		{m, o, false},
		{f, o, false},
		{"", m, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.actor)+"_"+string(tt.target), func(t *testing.T) {
			if got := Compatible(tt.actor, tt.target); got != tt.want {
				t.Errorf("Compatible(%s, %s) = %v, want %v", tt.actor, tt.target, got, tt.want)
			}
		})
	}
}
