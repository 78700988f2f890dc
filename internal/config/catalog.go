package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/DoyleJ11/lordfarm/internal/engine"
)

var ErrUnknownPreset = errors.New("unknown formation preset")

// Catalog is the game-specific data: named formations and the characters each
// role may pick.
type Catalog struct {
	// Presets maps a name like "2-2-2" to formation text.
	Presets    map[string]string
	Characters engine.Catalog
}

func DefaultCatalog() Catalog {
	return Catalog{
		Presets: map[string]string{
			"2-2-2": "support:2,tank:2,dps:2",
			"3-3":   "support:3,tank:3,dps:0",
			"6-dps": "support:0,tank:0,dps:6",
		},
		Characters: engine.Catalog{
			engine.RoleDPS: {
				"Spider-Man", "Black Panther", "Magik", "Psylocke", "Iron Man",
				"Punisher", "Winter Soldier", "Star-Lord", "Storm", "Scarlet Witch",
				"Hawkeye", "Black Widow", "Wolverine", "Squirrel Girl",
				"Moon Knight", "Namor", "Blade", "Hela", "Human Torch", "Iron Fist",
				"Mister Fantastic", "Phoenix",
			},
			engine.RoleTank: {
				"Hulk", "Captain America", "Thor", "Groot", "Peni Parker",
				"Magneto", "Emma Frost", "Venom", "Doctor Strange", "The Thing",
			},
			engine.RoleSupport: {
				"Mantis", "Luna Snow", "Jeff the Land Shark", "Rocket Raccoon",
				"Adam Warlock", "Cloak & Dagger", "Invisible Woman", "Ultron", "Loki",
			},
		},
	}
}

// LoadCatalog reads path with viper and overlays it on the defaults. Sections
// present in the file replace the defaults wholesale:
//
//	[presets]
//	"4v4" = "tank:1,dps:2,support:1"
//
//	[characters]
//	tank = ["Hulk", "Thor"]
//
// An empty path returns the defaults.
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}

	if v.IsSet("presets") {
		presets := v.GetStringMapString("presets")
		for name, text := range presets {
			if _, err := engine.ParseFormation(text, 1); err != nil {
				return Catalog{}, fmt.Errorf("catalog preset %q: %w", name, err)
			}
		}
		cat.Presets = presets
	}
	if v.IsSet("characters") {
		chars := make(engine.Catalog)
		for name, list := range v.GetStringMapStringSlice("characters") {
			role, err := engine.ParseRole(name)
			if err != nil || role == engine.RoleFlex {
				return Catalog{}, fmt.Errorf("catalog characters: %w: %q", engine.ErrUnknownRole, name)
			}
			for _, c := range list {
				chars[role] = append(chars[role], engine.Character(c))
			}
		}
		cat.Characters = chars
	}
	return cat, nil
}

// Formation resolves a preset name, or failing that parses formation text.
func (c Catalog) Formation(spec string, teams int) (engine.Formation, error) {
	spec = strings.TrimSpace(spec)
	if text, ok := c.Presets[strings.ToLower(spec)]; ok {
		return engine.ParseFormation(text, teams)
	}
	if !strings.Contains(spec, ":") {
		return engine.Formation{}, fmt.Errorf("%w: %q", ErrUnknownPreset, spec)
	}
	return engine.ParseFormation(spec, teams)
}

func (c Catalog) PresetNames() []string {
	return slices.Sorted(maps.Keys(c.Presets))
}
