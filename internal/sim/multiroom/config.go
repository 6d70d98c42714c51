package multiroom

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"gridcity.ai/internal/sim/room"
	"gridcity.ai/internal/sim/tuning"
)

type Config struct {
	DefaultRoomID string     `yaml:"default_room_id"`
	AllowDynamic  bool       `yaml:"allow_dynamic"`
	MaxRooms      int        `yaml:"max_rooms"`
	Rooms         []RoomSpec `yaml:"rooms"`
}

type RoomSpec struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	GridSize     int    `yaml:"grid_size"`
	SinglePlayer bool   `yaml:"single_player"`
	// VictoryDay and StartPlayers fall back to tuning / room defaults when
	// omitted; an explicit 0 disables victory or manual-starts the room.
	VictoryDay   *int `yaml:"victory_day"`
	StartPlayers *int `yaml:"start_players"`
	MaxPlayers   int  `yaml:"max_players"`
}

var roomIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// ValidRoomID reports whether id may name a room (and therefore a data dir).
func ValidRoomID(id string) bool { return roomIDPattern.MatchString(id) }

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg.Rooms = nil
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("rooms.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("rooms.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		DefaultRoomID: "room_1",
		MaxRooms:      16,
		Rooms:         []RoomSpec{{ID: "room_1", Name: "room_1"}},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.DefaultRoomID = strings.TrimSpace(c.DefaultRoomID)
	for i := range c.Rooms {
		c.Rooms[i].ID = strings.TrimSpace(c.Rooms[i].ID)
		if strings.TrimSpace(c.Rooms[i].Name) == "" {
			c.Rooms[i].Name = c.Rooms[i].ID
		}
		if c.Rooms[i].MaxPlayers < 0 {
			c.Rooms[i].MaxPlayers = 0
		}
	}
	if c.DefaultRoomID == "" && len(c.Rooms) > 0 {
		c.DefaultRoomID = c.Rooms[0].ID
	}
	if c.MaxRooms < len(c.Rooms) {
		c.MaxRooms = len(c.Rooms)
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if len(c.Rooms) == 0 {
		return fmt.Errorf("rooms must not be empty")
	}
	seen := map[string]bool{}
	for _, r := range c.Rooms {
		if r.ID == "" {
			return fmt.Errorf("room id must not be empty")
		}
		if !ValidRoomID(r.ID) {
			return fmt.Errorf("room id %q must match %s", r.ID, roomIDPattern)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate room id: %s", r.ID)
		}
		seen[r.ID] = true
		if r.GridSize != 0 && r.GridSize < 2 {
			return fmt.Errorf("room %s grid_size must be >= 2", r.ID)
		}
		if r.VictoryDay != nil && *r.VictoryDay < 0 {
			return fmt.Errorf("room %s victory_day must be >= 0", r.ID)
		}
		if r.StartPlayers != nil && *r.StartPlayers < 0 {
			return fmt.Errorf("room %s start_players must be >= 0", r.ID)
		}
		if r.MaxPlayers > 0 && r.StartPlayers != nil && *r.StartPlayers > r.MaxPlayers {
			return fmt.Errorf("room %s start_players exceeds max_players", r.ID)
		}
	}
	if !seen[c.DefaultRoomID] {
		return fmt.Errorf("default_room_id %q not found in rooms", c.DefaultRoomID)
	}
	return nil
}

// DynamicSpec is the RoomSpec used for rooms created on demand by a join.
func (c Config) DynamicSpec(id string) RoomSpec {
	base, _ := c.RoomSpecByID(c.DefaultRoomID)
	base.ID = id
	base.Name = id
	return base
}

func (c Config) RoomSpecByID(id string) (RoomSpec, bool) {
	for _, r := range c.Rooms {
		if r.ID == id {
			return r, true
		}
	}
	return RoomSpec{}, false
}

func (c Config) Manifest() []RoomSpec {
	out := append([]RoomSpec(nil), c.Rooms...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomConfig turns a spec into the room's own config.
func (s RoomSpec) RoomConfig(t tuning.Tuning) room.Config {
	cfg := room.DefaultConfig(s.ID, t)
	cfg.Name = s.Name
	cfg.SinglePlayer = s.SinglePlayer
	if s.GridSize > 0 {
		cfg.GridSize = s.GridSize
	}
	if s.VictoryDay != nil {
		cfg.VictoryDay = *s.VictoryDay
	}
	if s.StartPlayers != nil {
		cfg.StartPlayers = *s.StartPlayers
	}
	return cfg
}
