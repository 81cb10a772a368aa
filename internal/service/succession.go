package service

import (
	"fmt"
	"math/rand"

	"shelfshare/internal/model"
)

// Succession policy names accepted in configuration.
const (
	PolicyRandom   = "random"
	PolicyEarliest = "earliest"
)

// SuccessorPicker chooses which remaining member becomes admin when the last
// admin of a forum deletes their account. candidates is never empty and is
// ordered by join time.
type SuccessorPicker interface {
	Name() string
	Pick(candidates []model.ForumMember) model.ForumMember
}

// RandomSuccessor picks uniformly at random.
type RandomSuccessor struct{}

func (RandomSuccessor) Name() string { return PolicyRandom }

func (RandomSuccessor) Pick(candidates []model.ForumMember) model.ForumMember {
	return candidates[rand.Intn(len(candidates))]
}

// EarliestJoinedSuccessor picks the longest-standing member.
type EarliestJoinedSuccessor struct{}

func (EarliestJoinedSuccessor) Name() string { return PolicyEarliest }

func (EarliestJoinedSuccessor) Pick(candidates []model.ForumMember) model.ForumMember {
	return candidates[0]
}

// NewSuccessorPicker returns the picker for a configured policy name.
func NewSuccessorPicker(policy string) (SuccessorPicker, error) {
	switch policy {
	case "", PolicyRandom:
		return RandomSuccessor{}, nil
	case PolicyEarliest:
		return EarliestJoinedSuccessor{}, nil
	default:
		return nil, fmt.Errorf("unknown succession policy %q", policy)
	}
}
