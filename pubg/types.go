package pubg

import (
	"math"
	"time"
)

// Player is a PUBG account on one shard.
type Player struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Shard    Shard    `json:"shard"`
	BanType  string   `json:"ban_type,omitempty"`
	MatchIDs []string `json:"match_ids,omitempty"`
}

// Season is a competitive season of a shard.
type Season struct {
	ID          string `json:"id"`
	IsCurrent   bool   `json:"is_current"`
	IsOffseason bool   `json:"is_offseason"`
}

// ModeStats are a player's season totals for one game mode.
type ModeStats struct {
	Kills         int     `json:"kills"`
	Assists       int     `json:"assists"`
	HeadshotKills int     `json:"headshot_kills"`
	Losses        int     `json:"losses"`
	RoundsPlayed  int     `json:"rounds_played"`
	Wins          int     `json:"wins"`
	Top10s        int     `json:"top10s"`
	DamageDealt   float64 `json:"damage_dealt"`
}

// KD is kills per death. A player with no losses counts as one death.
func (m ModeStats) KD() float64 {
	return round2(float64(m.Kills) / float64(max(m.Losses, 1)))
}

// WinRate is the percentage of rounds won.
func (m ModeStats) WinRate() float64 {
	return round2(float64(m.Wins) / float64(max(m.RoundsPlayed, 1)) * 100)
}

// DamageAvg is the mean damage dealt per round.
func (m ModeStats) DamageAvg() float64 {
	return round2(m.DamageDealt / float64(max(m.RoundsPlayed, 1)))
}

// Game mode names used by the stats endpoint.
const (
	ModeSolo     = "solo"
	ModeSoloFPP  = "solo-fpp"
	ModeDuo      = "duo"
	ModeDuoFPP   = "duo-fpp"
	ModeSquad    = "squad"
	ModeSquadFPP = "squad-fpp"
)

// SeasonStats holds a player's statistics for one season.
type SeasonStats struct {
	PlayerID string               `json:"player_id"`
	SeasonID string               `json:"season_id"`
	Shard    Shard                `json:"shard"`
	Modes    map[string]ModeStats `json:"modes"`
}

// Mode returns the stats for mode, or zero stats if the player has none.
func (s SeasonStats) Mode(mode string) ModeStats {
	return s.Modes[mode]
}

// Match is the summary of a finished match.
type Match struct {
	ID        string        `json:"id"`
	Shard     Shard         `json:"shard"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration"`
	GameMode  string        `json:"game_mode"`
	MapName   string        `json:"map_name"`
	MatchType string        `json:"match_type"`
}

// ReplayURL links to the match on pubg.sh.
func (m Match) ReplayURL() string {
	return "https://pubg.sh/" + m.ID
}

// PlayerReport combines everything the stats command shows for a player.
type PlayerReport struct {
	Player        Player      `json:"player"`
	Season        Season      `json:"season"`
	Stats         SeasonStats `json:"stats"`
	RecentMatches []Match     `json:"recent_matches"`
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
