package pubg

import "time"

// JSON:API documents returned by api.pubg.com.

type resourceID struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type playerResource struct {
	ID         string `json:"id"`
	Attributes struct {
		Name    string `json:"name"`
		ShardID string `json:"shardId"`
		BanType string `json:"banType"`
	} `json:"attributes"`
	Relationships struct {
		Matches struct {
			Data []resourceID `json:"data"`
		} `json:"matches"`
	} `json:"relationships"`
}

func (r playerResource) player(shard Shard) Player {
	p := Player{
		ID:      r.ID,
		Name:    r.Attributes.Name,
		Shard:   shard,
		BanType: r.Attributes.BanType,
	}
	for _, m := range r.Relationships.Matches.Data {
		p.MatchIDs = append(p.MatchIDs, m.ID)
	}
	return p
}

type playersDocument struct {
	Data []playerResource `json:"data"`
}

type seasonsDocument struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			IsCurrentSeason bool `json:"isCurrentSeason"`
			IsOffseason     bool `json:"isOffseason"`
		} `json:"attributes"`
	} `json:"data"`
}

func (d seasonsDocument) seasons() []Season {
	out := make([]Season, 0, len(d.Data))
	for _, s := range d.Data {
		out = append(out, Season{
			ID:          s.ID,
			IsCurrent:   s.Attributes.IsCurrentSeason,
			IsOffseason: s.Attributes.IsOffseason,
		})
	}
	return out
}

type wireModeStats struct {
	Kills         int     `json:"kills"`
	Assists       int     `json:"assists"`
	HeadshotKills int     `json:"headshotKills"`
	Losses        int     `json:"losses"`
	RoundsPlayed  int     `json:"roundsPlayed"`
	Wins          int     `json:"wins"`
	Top10s        int     `json:"top10s"`
	DamageDealt   float64 `json:"damageDealt"`
}

type seasonStatsDocument struct {
	Data struct {
		Attributes struct {
			GameModeStats map[string]wireModeStats `json:"gameModeStats"`
		} `json:"attributes"`
	} `json:"data"`
}

func (d seasonStatsDocument) stats(shard Shard, playerID, seasonID string) SeasonStats {
	s := SeasonStats{
		PlayerID: playerID,
		SeasonID: seasonID,
		Shard:    shard,
		Modes:    make(map[string]ModeStats, len(d.Data.Attributes.GameModeStats)),
	}
	for mode, w := range d.Data.Attributes.GameModeStats {
		s.Modes[mode] = ModeStats(w)
	}
	return s
}

type matchDocument struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			CreatedAt time.Time `json:"createdAt"`
			Duration  int       `json:"duration"`
			GameMode  string    `json:"gameMode"`
			MapName   string    `json:"mapName"`
			MatchType string    `json:"matchType"`
		} `json:"attributes"`
	} `json:"data"`
}

func (d matchDocument) match(shard Shard) Match {
	a := d.Data.Attributes
	return Match{
		ID:        d.Data.ID,
		Shard:     shard,
		CreatedAt: a.CreatedAt,
		Duration:  time.Duration(a.Duration) * time.Second,
		GameMode:  a.GameMode,
		MapName:   a.MapName,
		MatchType: a.MatchType,
	}
}
