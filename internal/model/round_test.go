package model

import "testing"

func TestNextRound(t *testing.T) {
	tests := []struct {
		name         string
		currentRound int
		totalMembers int
		want         RoundTransition
	}{
		{
			name:         "first round advances",
			currentRound: 1,
			totalMembers: 5,
			want:         RoundTransition{NewRound: 2, Complete: false},
		},
		{
			name:         "middle round advances",
			currentRound: 3,
			totalMembers: 5,
			want:         RoundTransition{NewRound: 4, Complete: false},
		},
		{
			name:         "final round completes",
			currentRound: 5,
			totalMembers: 5,
			want:         RoundTransition{NewRound: 6, Complete: true},
		},
		{
			name:         "single member completes immediately",
			currentRound: 1,
			totalMembers: 1,
			want:         RoundTransition{NewRound: 2, Complete: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRound(tt.currentRound, tt.totalMembers)
			if got != tt.want {
				t.Fatalf("NextRound(%d, %d) = %+v, want %+v", tt.currentRound, tt.totalMembers, got, tt.want)
			}
		})
	}
}
