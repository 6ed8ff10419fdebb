package action

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// AllowSpec, LogSpec, BlockSpec, ChallengeSpec, CcSpec mirror the nested
// YAML shapes a rule's action block can take.
type AllowSpec struct {
	Reason string `yaml:"reason"`
}

type LogSpec struct {
	Reason string `yaml:"reason"`
}

type BlockSpec struct {
	Status int    `yaml:"status"`
	Reason string `yaml:"reason"`
}

type ChallengeSpec struct {
	Status int    `yaml:"status"`
	Reason string `yaml:"reason"`
}

type CcSpec struct {
	KeyParts    []string `yaml:"key_parts"`
	WindowSecs  int      `yaml:"window_secs"`
	MaxRequests int      `yaml:"max_requests"`
	BlockSecs   int      `yaml:"block_secs"`
	OnLimit     Raw      `yaml:"on_limit"`
}

// Raw is the untagged YAML shape of an ActionSpec; the variant is whichever
// field is non-nil.
type Raw struct {
	Allow     *AllowSpec     `yaml:"allow"`
	Log       *LogSpec       `yaml:"log"`
	Block     *BlockSpec     `yaml:"block"`
	Challenge *ChallengeSpec `yaml:"challenge"`
	Cc        *CcSpec        `yaml:"cc"`
}

// UnmarshalYAML supports the untagged single-key-mapping ActionSpec form.
func (r *Raw) UnmarshalYAML(node *yaml.Node) error {
	type rawAlias Raw
	var a rawAlias
	if err := node.Decode(&a); err != nil {
		return err
	}
	*r = Raw(a)
	return nil
}

func (r Raw) variantCount() int {
	n := 0
	if r.Allow != nil {
		n++
	}
	if r.Log != nil {
		n++
	}
	if r.Block != nil {
		n++
	}
	if r.Challenge != nil {
		n++
	}
	if r.Cc != nil {
		n++
	}
	return n
}

const defaultBlockStatus = 403

// Compile converts the untagged YAML ActionSpec into a closed Action,
// validating the Cc on_limit restriction and rejecting ambiguous nodes.
func Compile(r Raw) (*Action, error) {
	switch n := r.variantCount(); {
	case n == 0:
		return nil, fmt.Errorf("action has no recognized variant key")
	case n > 1:
		return nil, fmt.Errorf("action has %d variant keys set, want exactly 1", n)
	}

	switch {
	case r.Allow != nil:
		return &Action{Kind: KindAllow, Reason: r.Allow.Reason}, nil

	case r.Log != nil:
		return &Action{Kind: KindLog, Reason: r.Log.Reason}, nil

	case r.Block != nil:
		status := r.Block.Status
		if status == 0 {
			status = defaultBlockStatus
		}
		return &Action{Kind: KindBlock, Status: status, Reason: r.Block.Reason}, nil

	case r.Challenge != nil:
		return &Action{Kind: KindChallenge, Status: r.Challenge.Status, Reason: r.Challenge.Reason}, nil

	case r.Cc != nil:
		onLimit, err := Compile(r.Cc.OnLimit)
		if err != nil {
			return nil, fmt.Errorf("cc.on_limit: %w", err)
		}
		if !ValidOnLimit(onLimit.Kind) {
			return nil, fmt.Errorf("cc.on_limit must be log, block, or challenge")
		}
		return &Action{
			Kind:        KindCc,
			KeyParts:    r.Cc.KeyParts,
			WindowSecs:  r.Cc.WindowSecs,
			MaxRequests: r.Cc.MaxRequests,
			BlockSecs:   r.Cc.BlockSecs,
			OnLimit:     onLimit,
		}, nil
	}

	return nil, fmt.Errorf("unreachable: no variant matched")
}
