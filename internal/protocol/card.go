package protocol

import (
	"fmt"
	"strings"
)

type Suit byte

const (
	Spades   Suit = 's'
	Hearts   Suit = 'h'
	Diamonds Suit = 'd'
	Clubs    Suit = 'c'
)

// Rank runs from 2 to 14; 14 is the ace.
type Rank int

const (
	Jack  Rank = 11
	Queen Rank = 12
	King  Rank = 13
	Ace   Rank = 14
)

const rankChars = "23456789TJQKA"

// Card travels as two characters: rank then suit ("As", "Td", "2c").
type Card struct {
	Rank Rank
	Suit Suit
}

func (c Card) Valid() bool {
	if c.Rank < 2 || c.Rank > Ace {
		return false
	}
	switch c.Suit {
	case Spades, Hearts, Diamonds, Clubs:
		return true
	}
	return false
}

func (c Card) String() string {
	if !c.Valid() {
		return "??"
	}
	return string([]byte{rankChars[c.Rank-2], byte(c.Suit)})
}

func ParseCard(s string) (Card, error) {
	if len(s) != 2 {
		return Card{}, fmt.Errorf("card %q: want 2 characters", s)
	}
	i := strings.IndexByte(rankChars, s[0])
	if i < 0 {
		return Card{}, fmt.Errorf("card %q: bad rank", s)
	}
	c := Card{Rank: Rank(i + 2), Suit: Suit(s[1])}
	if !c.Valid() {
		return Card{}, fmt.Errorf("card %q: bad suit", s)
	}
	return c, nil
}

func (c Card) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid card %d/%c", c.Rank, c.Suit)
	}
	return []byte(c.String()), nil
}

func (c *Card) UnmarshalText(b []byte) error {
	parsed, err := ParseCard(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
