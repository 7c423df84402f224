package sweep

import (
	"fmt"
	"iter"
	"strconv"
)

// FetchPolicy selects how the simulator fills a block on a miss.
// The value is passed to the simulator verbatim as the -t flag.
type FetchPolicy byte

const (
	// FetchBlocking fetches the whole block before servicing the access.
	FetchBlocking FetchPolicy = 'B'
	// FetchSubblocking fetches only the requested sub-block.
	FetchSubblocking FetchPolicy = 'S'
)

// ReplacementPolicy selects the simulator's victim choice, passed as the -r flag.
type ReplacementPolicy byte

const (
	// ReplaceLRU evicts the least recently used block.
	ReplaceLRU ReplacementPolicy = 'L'
	// ReplaceNMRUFIFO evicts in FIFO order among the not-most-recently-used blocks.
	ReplaceNMRUFIFO ReplacementPolicy = 'N'
)

func (p FetchPolicy) String() string       { return string(rune(p)) }
func (p ReplacementPolicy) String() string { return string(rune(p)) }

// Valid reports whether p is a recognized fetch policy.
func (p FetchPolicy) Valid() bool { return p == FetchBlocking || p == FetchSubblocking }

// Valid reports whether p is a recognized replacement policy.
func (p ReplacementPolicy) Valid() bool { return p == ReplaceLRU || p == ReplaceNMRUFIFO }

// ParseFetchPolicy converts a one-character token ("B" or "S").
func ParseFetchPolicy(s string) (FetchPolicy, error) {
	if len(s) == 1 && FetchPolicy(s[0]).Valid() {
		return FetchPolicy(s[0]), nil
	}
	return 0, fmt.Errorf("unknown fetch policy %q; valid: B, S", s)
}

// ParseReplacementPolicy converts a one-character token ("L" or "N").
func ParseReplacementPolicy(s string) (ReplacementPolicy, error) {
	if len(s) == 1 && ReplacementPolicy(s[0]).Valid() {
		return ReplacementPolicy(s[0]), nil
	}
	return 0, fmt.Errorf("unknown replacement policy %q; valid: L, N", s)
}

// Tuple is one point of the cache configuration space. C, B, S and V are log2
// exponents of total size in bytes, block size in bytes, blocks per set and
// victim-cache blocks.
type Tuple struct {
	C int
	B int
	S int
	V int
	T FetchPolicy
	R ReplacementPolicy
}

// Valid reports whether the tuple describes a realizable cache:
// at least one set (s+b < c) and a victim cache no larger than a set (v <= s).
func (t Tuple) Valid() bool {
	return t.B >= 0 && t.S >= 0 && t.S+t.B < t.C &&
		t.V >= 0 && t.V <= t.S &&
		t.T.Valid() && t.R.Valid()
}

// Args renders the simulator command line for this tuple.
func (t Tuple) Args() []string {
	return []string{
		"-c", strconv.Itoa(t.C),
		"-b", strconv.Itoa(t.B),
		"-s", strconv.Itoa(t.S),
		"-v", strconv.Itoa(t.V),
		"-t", t.T.String(),
		"-r", t.R.String(),
	}
}

func (t Tuple) String() string {
	return fmt.Sprintf("c=%d b=%d s=%d v=%d t=%s r=%s", t.C, t.B, t.S, t.V, t.T, t.R)
}

// Bounds describes the region of the space to enumerate. S and V have implicit
// lower bounds of zero and upper bounds derived from the tuple constraints;
// SMax and VMax optionally cap them further.
type Bounds struct {
	CMin int
	CMax int
	BMin int
	BMax int
	SMax *int // nil = up to c-b-1
	VMax *int // nil = up to s

	FetchPolicies       []FetchPolicy
	ReplacementPolicies []ReplacementPolicy
}

// DefaultBounds returns the historical sweep: a 32KB cache (c=15) with block
// sizes from 64B to 8KB, every associativity and victim size, all policies.
func DefaultBounds() Bounds {
	return Bounds{
		CMin:                15,
		CMax:                15,
		BMin:                6,
		BMax:                13,
		FetchPolicies:       []FetchPolicy{FetchBlocking, FetchSubblocking},
		ReplacementPolicies: []ReplacementPolicy{ReplaceLRU, ReplaceNMRUFIFO},
	}
}

// Validate checks that the bounds are well-formed.
func (b Bounds) Validate() error {
	if b.CMin < 1 {
		return fmt.Errorf("c_min must be >= 1, got %d", b.CMin)
	}
	if b.CMax < b.CMin {
		return fmt.Errorf("c_max (%d) must be >= c_min (%d)", b.CMax, b.CMin)
	}
	if b.BMin < 0 {
		return fmt.Errorf("b_min must be >= 0, got %d", b.BMin)
	}
	if b.BMax < b.BMin {
		return fmt.Errorf("b_max (%d) must be >= b_min (%d)", b.BMax, b.BMin)
	}
	if b.SMax != nil && *b.SMax < 0 {
		return fmt.Errorf("s_max must be >= 0, got %d", *b.SMax)
	}
	if b.VMax != nil && *b.VMax < 0 {
		return fmt.Errorf("v_max must be >= 0, got %d", *b.VMax)
	}
	if len(b.FetchPolicies) == 0 {
		return fmt.Errorf("at least one fetch policy required")
	}
	seenT := make(map[FetchPolicy]bool)
	for _, p := range b.FetchPolicies {
		if !p.Valid() {
			return fmt.Errorf("unknown fetch policy %q", p.String())
		}
		if seenT[p] {
			return fmt.Errorf("duplicate fetch policy %q", p.String())
		}
		seenT[p] = true
	}
	if len(b.ReplacementPolicies) == 0 {
		return fmt.Errorf("at least one replacement policy required")
	}
	seenR := make(map[ReplacementPolicy]bool)
	for _, p := range b.ReplacementPolicies {
		if !p.Valid() {
			return fmt.Errorf("unknown replacement policy %q", p.String())
		}
		if seenR[p] {
			return fmt.Errorf("duplicate replacement policy %q", p.String())
		}
		seenR[p] = true
	}
	return nil
}

func (b Bounds) bHigh(c int) int {
	return min(b.BMax, c-1)
}

func (b Bounds) sHigh(c, blk int) int {
	hi := c - blk - 1
	if b.SMax != nil {
		hi = min(hi, *b.SMax)
	}
	return hi
}

func (b Bounds) vHigh(s int) int {
	if b.VMax != nil {
		return min(s, *b.VMax)
	}
	return s
}

// Enumerate lazily yields every valid tuple within bounds, outermost to innermost
// in t, r, c, b, s, v order. Ranges are derived from the constraints, so no
// invalid tuple is ever produced. The sequence has no hidden state and may be
// iterated any number of times.
func Enumerate(b Bounds) iter.Seq[Tuple] {
	return func(yield func(Tuple) bool) {
		for _, t := range b.FetchPolicies {
			for _, r := range b.ReplacementPolicies {
				for c := b.CMin; c <= b.CMax; c++ {
					for blk := max(b.BMin, 0); blk <= b.bHigh(c); blk++ {
						for s := 0; s <= b.sHigh(c, blk); s++ {
							for v := 0; v <= b.vHigh(s); v++ {
								if !yield(Tuple{C: c, B: blk, S: s, V: v, T: t, R: r}) {
									return
								}
							}
						}
					}
				}
			}
		}
	}
}

// Count returns the number of tuples Enumerate(b) yields without walking them.
func Count(b Bounds) int {
	perPolicy := 0
	for c := b.CMin; c <= b.CMax; c++ {
		for blk := max(b.BMin, 0); blk <= b.bHigh(c); blk++ {
			perPolicy += countSV(b, c, blk)
		}
	}
	return perPolicy * len(b.FetchPolicies) * len(b.ReplacementPolicies)
}

// countSV counts (s, v) pairs for a fixed (c, b). Uncapped, s ranges over
// [0, n-1] with n = c-b and contributes s+1 victim sizes: n(n+1)/2 in total.
func countSV(b Bounds, c, blk int) int {
	sHi := b.sHigh(c, blk)
	if sHi < 0 {
		return 0
	}
	if b.VMax == nil {
		n := sHi + 1
		return n * (n + 1) / 2
	}
	total := 0
	for s := 0; s <= sHi; s++ {
		total += b.vHigh(s) + 1
	}
	return total
}
