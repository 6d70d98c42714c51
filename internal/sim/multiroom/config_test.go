package multiroom

import (
	"testing"

	"gridcity.ai/internal/sim/tuning"
)

func TestLoad_RoomsYAML(t *testing.T) {
	cfg, err := Load("../../../configs/rooms.yaml")
	if err != nil {
		t.Fatalf("load rooms.yaml: %v", err)
	}
	if cfg.DefaultRoomID != "room_1" || !cfg.AllowDynamic {
		t.Fatalf("cfg=%+v", cfg)
	}
	solo, ok := cfg.RoomSpecByID("solo")
	if !ok || !solo.SinglePlayer {
		t.Fatalf("solo spec=%+v ok=%v", solo, ok)
	}
	tune := tuning.Defaults()
	if rc := solo.RoomConfig(tune); rc.VictoryDay != 0 || !rc.SinglePlayer || rc.Name != "Sandbox" {
		t.Fatalf("solo room config=%+v", rc)
	}
	mainSpec, _ := cfg.RoomSpecByID("room_1")
	if rc := mainSpec.RoomConfig(tune); rc.VictoryDay != tune.Victory.VictoryDay || rc.GridSize != tune.GridSize {
		t.Fatalf("room_1 should inherit tuning defaults: %+v", rc)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if len(cfg.Rooms) != 1 || cfg.MaxRooms < 1 {
		t.Fatalf("defaults=%+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	neg := -1
	cases := map[string]Config{
		"empty":     {DefaultRoomID: "a"},
		"duplicate": {DefaultRoomID: "a", Rooms: []RoomSpec{{ID: "a"}, {ID: "a"}}},
		"bad id":    {DefaultRoomID: "A B", Rooms: []RoomSpec{{ID: "A B"}}},
		"default":   {DefaultRoomID: "zzz", Rooms: []RoomSpec{{ID: "a"}}},
		"grid":      {DefaultRoomID: "a", Rooms: []RoomSpec{{ID: "a", GridSize: 1}}},
		"victory":   {DefaultRoomID: "a", Rooms: []RoomSpec{{ID: "a", VictoryDay: &neg}}},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	ok := Config{Rooms: []RoomSpec{{ID: "a"}, {ID: "b"}}}
	ok.Normalize()
	if err := ok.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok.DefaultRoomID != "a" || ok.MaxRooms != 2 || ok.Rooms[1].Name != "b" {
		t.Fatalf("normalize=%+v", ok)
	}
	if d := ok.DynamicSpec("x"); d.ID != "x" || d.Name != "x" {
		t.Fatalf("dynamic spec=%+v", d)
	}
}
