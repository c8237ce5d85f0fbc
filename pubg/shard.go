package pubg

import (
	"fmt"
	"strings"

	"github.com/hawkbot/hawkcache/resilience"
)

// Shard is a PUBG platform region.
type Shard string

const (
	ShardSteam Shard = "steam"
	ShardPSN   Shard = "psn"
	ShardXbox  Shard = "xbox"
	ShardKakao Shard = "kakao"
)

// Shards returns every supported shard.
func Shards() []Shard {
	return []Shard{ShardSteam, ShardPSN, ShardXbox, ShardKakao}
}

// ParseShard normalizes s and checks it is a supported shard.
func ParseShard(s string) (Shard, error) {
	shard := Shard(strings.ToLower(strings.TrimSpace(s)))
	if err := shard.Validate(); err != nil {
		return "", err
	}
	return shard, nil
}

// Validate returns a permanent ErrInvalidShard for unsupported shards.
func (s Shard) Validate() error {
	switch s {
	case ShardSteam, ShardPSN, ShardXbox, ShardKakao:
		return nil
	}
	return resilience.Permanent(fmt.Errorf("%w: %q", ErrInvalidShard, string(s)))
}

func (s Shard) String() string { return string(s) }
