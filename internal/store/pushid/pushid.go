// Package pushid generates 20-character, lexicographically time-ordered keys
// in the format used by the Firebase Realtime Database clients.
package pushid

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"
)

const alphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// Generator produces push ids. Ids from one generator are strictly
// increasing, even within a millisecond or when the clock goes back. The zero value is not usable; use New.
type Generator struct {
	mu       sync.Mutex
	now      func() time.Time
	lastTime int64
	lastRand [12]int
}

// New returns a generator using the given clock (time.Now when nil).
func New(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

var std = New(nil)

// Next returns a new id from the package generator.
func Next() string { return std.Next() }

// Next returns a new id.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	// The clock may step backwards; ids keep the last timestamp until it
	// catches up.
	ms := g.now().UnixMilli()
	if ms < g.lastTime {
		ms = g.lastTime
	}

	if ms != g.lastTime {
		for i := range g.lastRand {
			g.lastRand[i] = randIndex()
		}
	} else {
		i := len(g.lastRand) - 1
		for ; i >= 0 && g.lastRand[i] == 63; i-- {
			g.lastRand[i] = 0
		}
		if i >= 0 {
			g.lastRand[i]++
		} else {
			// Suffix space exhausted within one millisecond: borrow the next.
			ms++
		}
	}
	g.lastTime = ms

	var id [20]byte
	t := ms
	for i := 7; i >= 0; i-- {
		id[i] = alphabet[t%64]
		t /= 64
	}
	for i, r := range g.lastRand {
		id[8+i] = alphabet[r]
	}
	return string(id[:])
}

func randIndex() int {
	n, err := rand.Int(rand.Reader, big.NewInt(64))
	if err != nil {
		return int(time.Now().UnixNano() % 64)
	}
	return int(n.Int64())
}
