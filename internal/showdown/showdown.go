// Package showdown names the best hand a player shows at the end of a round.
package showdown

import (
	"errors"
	"fmt"

	"example.com/wepoker/internal/protocol"
	"github.com/chehsunliu/poker"
)

var ErrBadHand = errors.New("bad hand")

// Describe evaluates 5 to 7 cards and returns the hand class, e.g.
// "Full House".
func Describe(cards []protocol.Card) (string, error) {
	rank, err := Evaluate(cards)
	if err != nil {
		return "", err
	}
	return poker.RankString(rank), nil
}

// Evaluate returns the evaluator rank of the best five-card hand. Lower is
// stronger.
func Evaluate(cards []protocol.Card) (int32, error) {
	if len(cards) < 5 || len(cards) > 7 {
		return 0, fmt.Errorf("%w: %d cards, want 5 to 7", ErrBadHand, len(cards))
	}

	seen := make(map[protocol.Card]bool, len(cards))
	libCards := make([]poker.Card, len(cards))
	for i, c := range cards {
		if !c.Valid() {
			return 0, fmt.Errorf("%w: invalid card %v", ErrBadHand, c)
		}
		if seen[c] {
			return 0, fmt.Errorf("%w: duplicate card %s", ErrBadHand, c)
		}
		seen[c] = true
		libCards[i] = poker.NewCard(c.String())
	}
	return poker.Evaluate(libCards), nil
}
