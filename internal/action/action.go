// Package action implements the compiled action sum type: Allow, Log,
// Block, Challenge, and Cc (which itself nests an on-limit action
// restricted to Log|Block|Challenge).
package action

// Kind discriminates the Action sum type.
type Kind int

const (
	KindAllow Kind = iota
	KindLog
	KindBlock
	KindChallenge
	KindCc
)

// Action is a compiled rule action. Only the fields relevant to Kind are
// populated.
type Action struct {
	Kind Kind

	Reason string // Allow (optional), Log, Block, Challenge

	Status int // Block, Challenge

	// Cc fields
	KeyParts    []string
	WindowSecs  int
	MaxRequests int
	BlockSecs   int
	OnLimit     *Action // Kind is one of KindLog, KindBlock, KindChallenge
}

// Terminal reports whether this action kind ends rule evaluation
// immediately (Block, Challenge) as opposed to continuing to the next rule
// (Allow, Log). Cc's terminality depends on whether it fires and on its
// nested OnLimit action; it is handled specially by the protection engine.
func (k Kind) Terminal() bool {
	return k == KindBlock || k == KindChallenge
}

// ValidOnLimit reports whether k is one of the kinds permitted inside a Cc
// action's on_limit, restricted at compile time to Log|Block|Challenge.
func ValidOnLimit(k Kind) bool {
	return k == KindLog || k == KindBlock || k == KindChallenge
}
