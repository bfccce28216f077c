package signals

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// #region connectivity
// Connectivity names one network option the device can use.
type Connectivity string

const (
	ConnWifi     Connectivity = "wifi"
	ConnHotspot  Connectivity = "hotspot"
	ConnCellular Connectivity = "cellular"
	ConnEthernet Connectivity = "ethernet"
)

// #endregion connectivity

// #region snapshot
// BatteryUnknown marks a snapshot whose battery level could not be read.
const BatteryUnknown = -1

// Snapshot is the runtime context captured at decision time. It is never
// persisted; callers take a fresh one per request.
type Snapshot struct {
	Battery      int            `json:"battery"` // 0-100, or BatteryUnknown
	Hour         int            `json:"hour"`    // local hour, 0-23
	Connectivity []Connectivity `json:"connectivity,omitempty"`
}

// NewSnapshot builds a normalized snapshot. Battery outside 0-100 becomes
// unknown, hour is reduced mod 24, and connectivity is deduplicated and sorted.
func NewSnapshot(battery, hour int, conns ...Connectivity) Snapshot {
	if battery < 0 || battery > 100 {
		battery = BatteryUnknown
	}
	hour %= 24
	if hour < 0 {
		hour += 24
	}
	set := slices.Clone(conns)
	slices.Sort(set)
	return Snapshot{Battery: battery, Hour: hour, Connectivity: slices.Compact(set)}
}

// BatteryKnown reports whether the battery level was read.
func (s Snapshot) BatteryKnown() bool {
	return s.Battery >= 0 && s.Battery <= 100
}

// Has reports whether c is among the available connectivity options.
func (s Snapshot) Has(c Connectivity) bool {
	return slices.Contains(s.Connectivity, c)
}

func (s Snapshot) String() string {
	battery := "unknown"
	if s.BatteryKnown() {
		battery = fmt.Sprintf("%d%%", s.Battery)
	}
	conns := make([]string, len(s.Connectivity))
	for i, c := range s.Connectivity {
		conns[i] = string(c)
	}
	return fmt.Sprintf("battery=%s hour=%02d conn=[%s]", battery, s.Hour, strings.Join(conns, ","))
}

// #endregion snapshot

// #region probe-interfaces
// BatteryProbe reads the battery charge percentage.
type BatteryProbe interface {
	Battery(ctx context.Context) (int, error)
}

// ConnectivityProbe lists the currently available connectivity options.
type ConnectivityProbe interface {
	Available(ctx context.Context) ([]Connectivity, error)
}

// #endregion probe-interfaces

// #region config
// ProducerConfig holds probe locations.
type ProducerConfig struct {
	PowerSupplyDir    string   // sysfs power_supply class directory
	NetClassDir       string   // sysfs net class directory
	HotspotInterfaces []string // interface name prefixes that indicate a tether/hotspot link
}

// DefaultProducerConfig returns Linux sysfs defaults.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		PowerSupplyDir:    "/sys/class/power_supply",
		NetClassDir:       "/sys/class/net",
		HotspotInterfaces: []string{"usb", "rndis", "ap"},
	}
}

// #endregion config

// #region override
// Override replaces selected snapshot fields; nil fields keep the probed value.
type Override struct {
	Battery      *int
	Hour         *int
	Connectivity []Connectivity // nil keeps probed, empty slice clears
}

// Apply returns s with the override's fields replaced.
func (o Override) Apply(s Snapshot) Snapshot {
	battery, hour, conns := s.Battery, s.Hour, s.Connectivity
	if o.Battery != nil {
		battery = *o.Battery
	}
	if o.Hour != nil {
		hour = *o.Hour
	}
	if o.Connectivity != nil {
		conns = o.Connectivity
	}
	return NewSnapshot(battery, hour, conns...)
}

// ParseOverride reads "battery=15 hour=23 conn=wifi,hotspot" style text.
// Unknown keys are an error.
func ParseOverride(text string) (Override, error) {
	var o Override
	for _, field := range strings.Fields(text) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			return o, fmt.Errorf("override %q: expected key=value", field)
		}
		switch strings.ToLower(k) {
		case "battery":
			n, err := parseInt(v)
			if err != nil {
				return o, fmt.Errorf("override battery: %w", err)
			}
			o.Battery = &n
		case "hour":
			n, err := parseInt(v)
			if err != nil {
				return o, fmt.Errorf("override hour: %w", err)
			}
			o.Hour = &n
		case "conn", "connectivity":
			o.Connectivity = []Connectivity{}
			for _, c := range strings.Split(v, ",") {
				if c = strings.TrimSpace(c); c != "" {
					o.Connectivity = append(o.Connectivity, Connectivity(strings.ToLower(c)))
				}
			}
		default:
			return o, fmt.Errorf("override: unknown key %q", k)
		}
	}
	return o, nil
}

// #endregion override

// clock is swapped in tests.
type clock func() time.Time
