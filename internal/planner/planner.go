package planner

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/danielpatrickdp/situation-engine/internal/signals"
	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"go.uber.org/zap"
)

// #region planner
// Planner turns a selected situation into an ordered action list.
type Planner struct {
	config  Config
	weights WeightReader
	logger  *zap.Logger
}

// New creates a Planner. weights may be nil, in which case every pair
// reads as 1.0.
func New(config Config, weights WeightReader, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{config: config, weights: weights, logger: logger.Named("planner")}
}

// Plan applies the context rules and weight ordering for snap.
func (p *Planner) Plan(sit situation.Situation, snap signals.Snapshot) Plan {
	plan := Build(sit, snap, p.weights, p.config)
	for _, a := range plan.Adjustments {
		p.logger.Debug("plan adjusted",
			zap.String("situation", sit.Key),
			zap.String("rule", a.Rule),
			zap.String("action", a.Action),
			zap.String("change", a.Change))
	}
	if plan.Empty() {
		p.logger.Info("plan empty after context rules", zap.String("situation", sit.Key), zap.Stringer("context", snap))
	}
	return plan
}

// #endregion planner

// #region build
type item struct {
	action  situation.Action
	pinned  bool
	learned float64
	weight  float64
}

// Build is the pure planning function. Rules run in a fixed order:
//  1. Battery: below LowBattery, heavy actions are dropped
//  2. Night: brightness values are capped; for night domains the night
//     action is inserted or promoted to the front
//  3. Connectivity: with a hotspot available, hotspot-switch is preferred
//     over wifi-reconnect
//
// Unpinned actions whose learned weight is below MinActionWeight are then
// suppressed, and the rest are ordered by effective weight.
func Build(sit situation.Situation, snap signals.Snapshot, weights WeightReader, cfg Config) Plan {
	plan := Plan{Situation: sit.Key}
	items := make([]item, len(sit.Actions))
	for i, a := range sit.Actions {
		items[i] = item{action: a}
	}

	items = batteryRule(items, snap, cfg, &plan)
	items = nightRule(items, sit, snap, cfg, &plan)
	items = connectivityRule(items, snap, cfg, &plan)

	base := sit.Weight
	if base <= 0 {
		base = 1
	}
	for i := range items {
		items[i].learned = 1
		if weights != nil {
			items[i].learned = weights.WeightOf(sit.Key, items[i].action.Key())
		}
		items[i].weight = items[i].learned * base
	}

	items = suppressLowWeight(items, cfg, &plan)

	var pinned, rest []item
	for _, it := range items {
		if it.pinned {
			pinned = append(pinned, it)
		} else {
			rest = append(rest, it)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].weight > rest[j].weight
	})

	for _, it := range append(pinned, rest...) {
		plan.Steps = append(plan.Steps, Step{Action: it.action, Weight: it.weight, Pinned: it.pinned})
	}
	return plan
}

// #endregion build

// #region battery-rule
func batteryRule(items []item, snap signals.Snapshot, cfg Config, plan *Plan) []item {
	if !snap.BatteryKnown() || snap.Battery >= cfg.LowBattery {
		return items
	}
	kept := make([]item, 0, len(items))
	for _, it := range items {
		if cfg.isHeavy(it.action) {
			plan.Adjustments = append(plan.Adjustments, Adjustment{
				Rule:   "battery",
				Action: it.action.Key(),
				Change: "dropped",
				Reason: fmt.Sprintf("battery %d%% < %d%%, heavy action", snap.Battery, cfg.LowBattery),
			})
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

// #endregion battery-rule

// #region night-rule
func nightRule(items []item, sit situation.Situation, snap signals.Snapshot, cfg Config, plan *Plan) []item {
	if !cfg.isNight(snap.Hour) {
		return items
	}

	for i := range items {
		if capped, ok := capBrightness(items[i].action, cfg); ok {
			plan.Adjustments = append(plan.Adjustments, Adjustment{
				Rule:   "night",
				Action: capped.Key(),
				Change: "capped",
				Reason: fmt.Sprintf("hour %02d is night, brightness capped at %d", snap.Hour, cfg.NightBrightnessCap),
			})
			items[i].action = capped
		}
	}

	// An emptied plan stays empty so the caller falls back.
	if len(items) == 0 || cfg.NightAction.Tool == "" || !cfg.nightDomain(sit.Domain) {
		return items
	}

	reason := fmt.Sprintf("hour %02d is night, domain %q", snap.Hour, sit.Domain)
	// any brightness action already present stands in for the night action
	i := indexOfName(items, cfg.NightAction.Name())
	if i < 0 && cfg.BrightnessTool != "" {
		i = indexOfTool(items, cfg.BrightnessTool)
	}
	if i >= 0 {
		it := items[i]
		it.pinned = true
		items = insertAt(removeAt(items, i), 0, it)
		plan.Adjustments = append(plan.Adjustments, Adjustment{Rule: "night", Action: it.action.Key(), Change: "promoted", Reason: reason})
		return items
	}
	items = insertAt(items, 0, item{action: cfg.NightAction, pinned: true})
	plan.Adjustments = append(plan.Adjustments, Adjustment{Rule: "night", Action: cfg.NightAction.Key(), Change: "inserted", Reason: reason})
	return items
}

// capBrightness lowers a brightness action's numeric "value" param to the cap.
func capBrightness(a situation.Action, cfg Config) (situation.Action, bool) {
	if cfg.NightBrightnessCap <= 0 || a.Tool != cfg.BrightnessTool {
		return a, false
	}
	v, ok := a.Params["value"]
	if !ok {
		return a, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= cfg.NightBrightnessCap {
		return a, false
	}
	return a.WithParam("value", strconv.Itoa(cfg.NightBrightnessCap)), true
}

// #endregion night-rule

// #region connectivity-rule
func connectivityRule(items []item, snap signals.Snapshot, cfg Config, plan *Plan) []item {
	if !snap.Has(signals.ConnHotspot) || cfg.HotspotAction.Tool == "" || cfg.WifiReconnect.Tool == "" {
		return items
	}
	wi := indexOfName(items, cfg.WifiReconnect.Name())
	if wi < 0 {
		return items
	}

	if hi := indexOfName(items, cfg.HotspotAction.Name()); hi >= 0 {
		h := items[hi]
		h.pinned = true
		items = removeAt(items, hi)
		items = insertAt(items, indexOfName(items, cfg.WifiReconnect.Name()), h)
		plan.Adjustments = append(plan.Adjustments, Adjustment{
			Rule:   "connectivity",
			Action: h.action.Key(),
			Change: "promoted",
			Reason: "hotspot available, preferred over " + cfg.WifiReconnect.Name(),
		})
		return items
	}

	replaced := items[wi].action.Key()
	items[wi] = item{action: cfg.HotspotAction, pinned: true}
	plan.Adjustments = append(plan.Adjustments, Adjustment{
		Rule:   "connectivity",
		Action: cfg.HotspotAction.Key(),
		Change: "replaced",
		Reason: "hotspot available, replaces " + replaced,
	})
	return items
}

// #endregion connectivity-rule

// #region min-weight
// suppressLowWeight drops unpinned actions the user has rejected often
// enough. It never empties the plan on its own.
func suppressLowWeight(items []item, cfg Config, plan *Plan) []item {
	if cfg.MinActionWeight <= 0 {
		return items
	}
	kept := make([]item, 0, len(items))
	var dropped []Adjustment
	for _, it := range items {
		if !it.pinned && it.learned < cfg.MinActionWeight {
			dropped = append(dropped, Adjustment{
				Rule:   "min_weight",
				Action: it.action.Key(),
				Change: "suppressed",
				Reason: fmt.Sprintf("learned weight %.3f < %.3f", it.learned, cfg.MinActionWeight),
			})
			continue
		}
		kept = append(kept, it)
	}
	if len(kept) == 0 {
		return items
	}
	plan.Adjustments = append(plan.Adjustments, dropped...)
	return kept
}

// #endregion min-weight

// #region helpers
func indexOfName(items []item, name string) int {
	for i, it := range items {
		if it.action.Name() == name {
			return i
		}
	}
	return -1
}

func indexOfTool(items []item, tool string) int {
	for i, it := range items {
		if it.action.Tool == tool {
			return i
		}
	}
	return -1
}

func removeAt(items []item, i int) []item {
	out := make([]item, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...)
}

func insertAt(items []item, i int, it item) []item {
	out := make([]item, 0, len(items)+1)
	out = append(out, items[:i]...)
	out = append(out, it)
	return append(out, items[i:]...)
}

// #endregion helpers
