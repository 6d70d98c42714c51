package room

import (
	"fmt"
	"log"
	"strings"

	"gridcity.ai/internal/sim/tuning"
)

type Config struct {
	ID   string
	Name string

	GridSize     int
	SinglePlayer bool

	// VictoryDay is the game day the leaderboard is final. 0 disables victory.
	VictoryDay int

	// StartPlayers is how many players must be present before the game
	// clock starts. 0 means the host calls Start explicitly.
	StartPlayers int

	Governance Governance
	Broadcast  BroadcastFunc
	Logger     *log.Logger
}

// DefaultConfig fills a room config from tuning.
func DefaultConfig(id string, t tuning.Tuning) Config {
	return Config{
		ID:           id,
		GridSize:     t.GridSize,
		VictoryDay:   t.Victory.VictoryDay,
		StartPlayers: 1,
	}
}

func (c *Config) applyDefaults(t tuning.Tuning) {
	c.ID = strings.TrimSpace(c.ID)
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.GridSize <= 0 {
		c.GridSize = t.GridSize
	}
	if c.VictoryDay < 0 {
		c.VictoryDay = 0
	}
	if c.StartPlayers < 0 {
		c.StartPlayers = 0
	}
}

func (c Config) validate() error {
	if c.ID == "" {
		return fmt.Errorf("room id is required")
	}
	if c.GridSize < 2 {
		return fmt.Errorf("room %s: grid size %d too small", c.ID, c.GridSize)
	}
	return nil
}
