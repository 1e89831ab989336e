package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/wricardo/koikoi/game/yaku"
)

// Room types shipped with the server.
const (
	RoomQuick    = "QUICK"
	RoomStandard = "STANDARD"
	RoomMarathon = "MARATHON"
)

// RoomConfig is a room preset: how many rounds a game lasts, the timeout of
// every timer family and the rule variant.
type RoomConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rounds      int    `json:"rounds"`

	// Seconds a WAITING game stays open for a second player.
	MatchmakingTimeoutSeconds int `json:"matchmaking_timeout_seconds"`
	ActionSeconds             int `json:"action_seconds"`
	DisplaySeconds            int `json:"display_seconds"`
	ConfirmSeconds            int `json:"confirm_seconds"`
	IdleSeconds               int `json:"idle_seconds"`
	DisconnectSeconds         int `json:"disconnect_seconds"`

	BotFallback    bool `json:"bot_fallback"`
	BotDelayMillis int  `json:"bot_delay_millis"`

	SakeCupCombos  bool `json:"sake_cup_combos"`
	SakeCupAsChaff bool `json:"sake_cup_as_chaff"`
}

// RoomInfo summarizes a room for listings.
type RoomInfo struct {
	Filename    string `json:"filename,omitempty"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rounds      int    `json:"rounds"`
	BotFallback bool   `json:"bot_fallback"`
}

// Evaluator returns the scoring evaluator for the room's rule variant.
func (c *RoomConfig) Evaluator() yaku.Evaluator {
	return yaku.NewStandard(yaku.Options{
		SakeCupCombos:  c.SakeCupCombos,
		SakeCupAsChaff: c.SakeCupAsChaff,
	})
}

func (c *RoomConfig) MatchmakingTimeout() time.Duration { return seconds(c.MatchmakingTimeoutSeconds) }
func (c *RoomConfig) ActionTimeout() time.Duration      { return seconds(c.ActionSeconds) }
func (c *RoomConfig) DisplayTimeout() time.Duration     { return seconds(c.DisplaySeconds) }
func (c *RoomConfig) IdleTimeout() time.Duration        { return seconds(c.IdleSeconds) }
func (c *RoomConfig) DisconnectTimeout() time.Duration  { return seconds(c.DisconnectSeconds) }
func (c *RoomConfig) BotDelay() time.Duration           { return time.Duration(c.BotDelayMillis) * time.Millisecond }

// ContinueTimeout is the single window covering the display and confirm
// phases of a continue prompt.
func (c *RoomConfig) ContinueTimeout() time.Duration {
	return seconds(c.DisplaySeconds + c.ConfirmSeconds)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ValidateRoomConfig checks that every timeout is usable.
func ValidateRoomConfig(c *RoomConfig) error {
	if c == nil {
		return fmt.Errorf("room config is nil")
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("room id is required")
	}
	if c.Rounds < 1 {
		return fmt.Errorf("rounds must be at least 1, got %d", c.Rounds)
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"matchmaking_timeout_seconds", c.MatchmakingTimeoutSeconds},
		{"action_seconds", c.ActionSeconds},
		{"idle_seconds", c.IdleSeconds},
		{"disconnect_seconds", c.DisconnectSeconds},
	} {
		if f.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", f.name, f.value)
		}
	}
	if c.DisplaySeconds < 0 || c.ConfirmSeconds < 0 || c.BotDelayMillis < 0 {
		return fmt.Errorf("display, confirm and bot delay must not be negative")
	}
	if c.IdleSeconds <= c.ActionSeconds {
		return fmt.Errorf("idle_seconds (%d) must exceed action_seconds (%d)", c.IdleSeconds, c.ActionSeconds)
	}
	return nil
}

// Builtin returns fresh copies of the shipped room presets.
func Builtin() []*RoomConfig {
	return []*RoomConfig{
		{
			ID:                        RoomQuick,
			Name:                      "Quick",
			Description:               "Three rounds with short turn timers",
			Rounds:                    3,
			MatchmakingTimeoutSeconds: 60,
			ActionSeconds:             15,
			DisplaySeconds:            5,
			ConfirmSeconds:            10,
			IdleSeconds:               45,
			DisconnectSeconds:         30,
			BotFallback:               true,
			BotDelayMillis:            800,
			SakeCupCombos:             true,
			SakeCupAsChaff:            true,
		},
		{
			ID:                        RoomStandard,
			Name:                      "Standard",
			Description:               "Six rounds, the usual game",
			Rounds:                    6,
			MatchmakingTimeoutSeconds: 120,
			ActionSeconds:             30,
			DisplaySeconds:            5,
			ConfirmSeconds:            15,
			IdleSeconds:               90,
			DisconnectSeconds:         60,
			BotFallback:               true,
			BotDelayMillis:            1200,
			SakeCupCombos:             true,
			SakeCupAsChaff:            true,
		},
		{
			ID:                        RoomMarathon,
			Name:                      "Marathon",
			Description:               "Twelve rounds, one per month, no sake-cup viewing combos",
			Rounds:                    12,
			MatchmakingTimeoutSeconds: 180,
			ActionSeconds:             45,
			DisplaySeconds:            8,
			ConfirmSeconds:            20,
			IdleSeconds:               120,
			DisconnectSeconds:         90,
			BotFallback:               false,
			BotDelayMillis:            1500,
			SakeCupCombos:             false,
			SakeCupAsChaff:            true,
		},
	}
}
