package signals

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// #region producer

// Producer captures context snapshots from the configured probes.
type Producer struct {
	battery BatteryProbe
	network ConnectivityProbe
	now     clock
	logger  *zap.Logger
}

// NewProducer creates a Producer. Either probe may be nil; the matching
// snapshot field then degrades to unknown / empty.
func NewProducer(battery BatteryProbe, network ConnectivityProbe, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{battery: battery, network: network, now: time.Now, logger: logger.Named("signals")}
}

// NewSysfsProducer wires the sysfs probes from config.
func NewSysfsProducer(config ProducerConfig, logger *zap.Logger) *Producer {
	return NewProducer(
		&SysfsBattery{Dir: config.PowerSupplyDir},
		&SysfsNetwork{Dir: config.NetClassDir, HotspotPrefixes: config.HotspotInterfaces},
		logger,
	)
}

// #endregion producer

// #region produce

// Produce takes a snapshot. Probe errors never fail the call.
func (p *Producer) Produce(ctx context.Context) Snapshot {
	battery := BatteryUnknown
	if p.battery != nil {
		b, err := p.battery.Battery(ctx)
		if err != nil {
			p.logger.Debug("battery probe failed", zap.Error(err))
		} else {
			battery = b
		}
	}

	var conns []Connectivity
	if p.network != nil {
		c, err := p.network.Available(ctx)
		if err != nil {
			p.logger.Debug("connectivity probe failed", zap.Error(err))
		} else {
			conns = c
		}
	}

	return NewSnapshot(battery, p.now().Hour(), conns...)
}

// #endregion produce

// #region static-probes

// Static is a fixed probe answer, used for config-pinned context and tests.
type Static struct {
	Level int
	Conns []Connectivity
	Err   error
}

// Battery returns the fixed level.
func (s Static) Battery(context.Context) (int, error) {
	return s.Level, s.Err
}

// Available returns the fixed connectivity set.
func (s Static) Available(context.Context) ([]Connectivity, error) {
	return s.Conns, s.Err
}

// #endregion static-probes

// #region sysfs-battery

// ErrNoBattery is returned when no battery supply is present.
var ErrNoBattery = errors.New("no battery found")

// SysfsBattery reads capacity from the first BAT* power supply.
type SysfsBattery struct {
	Dir string
}

// Battery reads <Dir>/BAT*/capacity.
func (b *SysfsBattery) Battery(context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(b.Dir, "BAT*", "capacity"))
	if err != nil {
		return BatteryUnknown, fmt.Errorf("glob power supplies: %w", err)
	}
	if len(matches) == 0 {
		return BatteryUnknown, ErrNoBattery
	}
	sort.Strings(matches)
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return BatteryUnknown, fmt.Errorf("read %s: %w", matches[0], err)
	}
	n, err := parseInt(string(data))
	if err != nil {
		return BatteryUnknown, fmt.Errorf("parse %s: %w", matches[0], err)
	}
	return n, nil
}

// #endregion sysfs-battery

// #region sysfs-network

// SysfsNetwork classifies interfaces that are up under <Dir>.
type SysfsNetwork struct {
	Dir             string
	HotspotPrefixes []string
}

// Available reports wifi for wireless interfaces, hotspot for tether-named
// ones, and ethernet for any other non-loopback interface that is up.
func (n *SysfsNetwork) Available(context.Context) ([]Connectivity, error) {
	entries, err := os.ReadDir(n.Dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", n.Dir, err)
	}
	var out []Connectivity
	for _, e := range entries {
		name := e.Name()
		if name == "lo" {
			continue
		}
		iface := filepath.Join(n.Dir, name)
		state, err := os.ReadFile(filepath.Join(iface, "operstate"))
		if err != nil || strings.TrimSpace(string(state)) != "up" {
			continue
		}
		switch {
		case n.isHotspot(name):
			out = append(out, ConnHotspot)
		case exists(filepath.Join(iface, "wireless")):
			out = append(out, ConnWifi)
		default:
			out = append(out, ConnEthernet)
		}
	}
	return out, nil
}

func (n *SysfsNetwork) isHotspot(name string) bool {
	for _, p := range n.HotspotPrefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// #endregion sysfs-network

// #region helpers

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

// #endregion helpers
