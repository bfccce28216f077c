package planner

import (
	"strings"

	"github.com/danielpatrickdp/situation-engine/internal/situation"
)

// #region weight-reader
// WeightReader supplies learned weights; unseen pairs must read as 1.0.
type WeightReader interface {
	WeightOf(situationKey, actionKey string) float64
}

// #endregion weight-reader

// #region config
// Config holds the static context-rule tables.
type Config struct {
	LowBattery   int      // battery strictly below this drops heavy actions
	HeavyActions []string // "tool.operation" names or full action keys

	NightStart         int      // first night hour, inclusive
	NightEnd           int      // first day hour, exclusive end of night
	NightDomains       []string // situation domains the night rule applies to
	NightAction        situation.Action
	BrightnessTool     string // tool whose "value" param is capped at night
	NightBrightnessCap int

	HotspotAction situation.Action
	WifiReconnect situation.Action

	MinActionWeight float64 // learned weight below this suppresses an action; 0 disables
}

// DefaultConfig returns the standard rule tables.
func DefaultConfig() Config {
	return Config{
		LowBattery: 20,
		HeavyActions: []string{
			"youtube.open",
			"youtube.play",
			"media.play",
			"app.open_video",
			"game.launch",
			"camera.record",
		},
		NightStart:         22,
		NightEnd:           6,
		NightDomains:       []string{"comfort", "system"},
		NightAction:        situation.Action{Tool: "system.brightness", Operation: "down"},
		BrightnessTool:     "system.brightness",
		NightBrightnessCap: 30,
		HotspotAction:      situation.Action{Tool: "hotspot", Operation: "switch"},
		WifiReconnect:      situation.Action{Tool: "wifi", Operation: "reconnect"},
		MinActionWeight:    0.3,
	}
}

// isNight reports whether hour falls in [NightStart, NightEnd), wrapping
// past midnight when NightStart > NightEnd.
func (c Config) isNight(hour int) bool {
	switch {
	case c.NightStart == c.NightEnd:
		return false
	case c.NightStart < c.NightEnd:
		return hour >= c.NightStart && hour < c.NightEnd
	default:
		return hour >= c.NightStart || hour < c.NightEnd
	}
}

func (c Config) isHeavy(a situation.Action) bool {
	for _, h := range c.HeavyActions {
		if h == a.Name() || h == a.Key() {
			return true
		}
	}
	return false
}

func (c Config) nightDomain(domain string) bool {
	for _, d := range c.NightDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// #endregion config

// #region plan
// Step is one planned action.
type Step struct {
	Action situation.Action
	Weight float64 // learned × situation base weight
	Pinned bool    // placed by a context rule, ahead of weight ordering
}

// Adjustment records one change a rule made.
type Adjustment struct {
	Rule   string // "battery" | "night" | "connectivity" | "min_weight"
	Action string // action key affected
	Change string // "dropped" | "inserted" | "promoted" | "replaced" | "capped" | "suppressed"
	Reason string
}

// Plan is the ordered action list for one situation. An empty plan means
// every base action was removed and the caller must fall back.
type Plan struct {
	Situation   string
	Steps       []Step
	Adjustments []Adjustment
}

// Actions returns the planned actions in order.
func (p Plan) Actions() []situation.Action {
	out := make([]situation.Action, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Action
	}
	return out
}

// Empty reports whether nothing is left to execute.
func (p Plan) Empty() bool {
	return len(p.Steps) == 0
}

// #endregion plan
