// Package maze renders the endless product catalog that trapped clients
// crawl through. Rendering is pure: every random choice comes from the
// caller's *rand.Rand and the vocabulary is never mutated, so concurrent
// requests share nothing.
package maze

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
)

// LinksPerPage is the number of onward links on every maze page.
const LinksPerPage = 5

// MaxLevel is the deepest level the maze renders. Links on the last level
// point back to it.
const MaxLevel = 1_000_000

// ClampLevel maps any level into [1, MaxLevel].
func ClampLevel(level int) int {
	switch {
	case level < 1:
		return 1
	case level > MaxLevel:
		return MaxLevel
	default:
		return level
	}
}

// Item is one fake catalog entry.
type Item struct {
	Type        string
	Brand       string
	Model       string
	Price       string
	Stock       int
	Rating      string
	ReviewCount int
	Features    []string
	Description string
	Quote       string
}

// Title is the display name used for headings and link text.
func (i Item) Title() string {
	return i.Brand + " " + i.Type
}

// Link points one level deeper into the maze.
type Link struct {
	Level int
	Query int
	Text  string
}

// Href is the relative URL of the link.
func (l Link) Href() string {
	return fmt.Sprintf("/maze/%d?q=%d", l.Level, l.Query)
}

// Page is everything a maze page shows.
type Page struct {
	Level           int
	Item            Item
	VerifiedDaysAgo int
	Links           []Link
}

// NewRand returns a generator seeded from crypto/rand. Each request gets its own.
func NewRand() *rand.Rand {
	var seed [16]byte
	_, _ = crand.Read(seed[:])
	return rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	))
}

// NewItem draws a catalog entry for level.
func NewItem(level int, rng *rand.Rand) Item {
	return Item{
		Type:        pick(itemTypes, rng),
		Brand:       pick(brands, rng),
		Model:       fmt.Sprintf("MT-%d-%d", rng.IntN(9000)+1000, level),
		Price:       fmt.Sprintf("%.2f", rng.Float64()*44+5.99),
		Stock:       rng.IntN(491) + 10,
		Rating:      fmt.Sprintf("%.1f", rng.Float64()*1.5+3.5),
		ReviewCount: rng.IntN(2451) + 50,
		Features:    sample(features, rng.IntN(4)+3, rng),
		Description: pick(descriptions, rng),
		Quote:       pick(quotes, rng),
	}
}

// Generate builds the page for level, clamped into [1, MaxLevel].
func Generate(level int, rng *rand.Rand) Page {
	level = ClampLevel(level)

	page := Page{
		Level:           level,
		Item:            NewItem(level, rng),
		VerifiedDaysAgo: rng.IntN(30) + 1,
		Links:           make([]Link, 0, LinksPerPage),
	}

	next := min(level+1, MaxLevel)
	for range LinksPerPage {
		query := rng.IntN(9000) + 1000
		sibling := NewItem(next, rng)
		page.Links = append(page.Links, Link{
			Level: next,
			Query: query,
			Text:  fmt.Sprintf("%s ($%s)", sibling.Title(), sibling.Price),
		})
	}
	return page
}

func pick(values []string, rng *rand.Rand) string {
	return values[rng.IntN(len(values))]
}

// sample returns n distinct values using a partial Fisher-Yates shuffle over a copy.
func sample(values []string, n int, rng *rand.Rand) []string {
	pool := make([]string, len(values))
	copy(pool, values)
	n = min(n, len(pool))
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}
