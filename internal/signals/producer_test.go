package signals

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func fixedClock(hour int) clock {
	return func() time.Time {
		return time.Date(2026, 3, 14, hour, 30, 0, 0, time.Local)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// #region snapshot-tests

func TestNewSnapshotNormalizes(t *testing.T) {
	s := NewSnapshot(150, 25, ConnWifi, ConnHotspot, ConnWifi)
	if s.BatteryKnown() {
		t.Fatalf("battery 150 should be unknown, got %d", s.Battery)
	}
	if s.Hour != 1 {
		t.Fatalf("expected hour 1, got %d", s.Hour)
	}
	if diff := cmp.Diff([]Connectivity{ConnHotspot, ConnWifi}, s.Connectivity); diff != "" {
		t.Fatalf("connectivity mismatch (-want +got):\n%s", diff)
	}
	if !s.Has(ConnHotspot) || s.Has(ConnCellular) {
		t.Fatal("Has mismatch")
	}
}

func TestNewSnapshotNegativeHour(t *testing.T) {
	if s := NewSnapshot(50, -1); s.Hour != 23 {
		t.Fatalf("expected 23, got %d", s.Hour)
	}
}

func TestSnapshotString(t *testing.T) {
	got := NewSnapshot(15, 9, ConnWifi).String()
	if got != "battery=15% hour=09 conn=[wifi]" {
		t.Fatalf("unexpected %q", got)
	}
	if got := NewSnapshot(BatteryUnknown, 0).String(); got != "battery=unknown hour=00 conn=[]" {
		t.Fatalf("unexpected %q", got)
	}
}

// #endregion snapshot-tests

// #region override-tests

func TestParseOverride(t *testing.T) {
	o, err := ParseOverride("battery=15 hour=23 conn=wifi,Hotspot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := o.Apply(NewSnapshot(80, 14))
	want := NewSnapshot(15, 23, ConnWifi, ConnHotspot)
	if diff := cmp.Diff(want, s); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOverridePartialKeepsBase(t *testing.T) {
	o, err := ParseOverride("hour=2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := o.Apply(NewSnapshot(80, 14, ConnWifi))
	if s.Battery != 80 || s.Hour != 2 || !s.Has(ConnWifi) {
		t.Fatalf("unexpected %v", s)
	}
}

func TestParseOverrideEmptyConnClears(t *testing.T) {
	o, err := ParseOverride("conn=")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := o.Apply(NewSnapshot(80, 14, ConnWifi)); len(s.Connectivity) != 0 {
		t.Fatalf("expected cleared connectivity, got %v", s.Connectivity)
	}
}

func TestParseOverrideErrors(t *testing.T) {
	for _, in := range []string{"battery", "battery=x", "hour=?", "volume=3"} {
		if _, err := ParseOverride(in); err == nil {
			t.Errorf("%q: expected error", in)
		}
	}
}

// #endregion override-tests

// #region producer-tests

func TestProduceFromProbes(t *testing.T) {
	p := NewProducer(Static{Level: 42}, Static{Conns: []Connectivity{ConnWifi}}, nil)
	p.now = fixedClock(22)

	s := p.Produce(context.Background())
	if s.Battery != 42 || s.Hour != 22 || !s.Has(ConnWifi) {
		t.Fatalf("unexpected snapshot %v", s)
	}
}

func TestProduceDegradesOnProbeError(t *testing.T) {
	boom := errors.New("boom")
	p := NewProducer(Static{Err: boom}, Static{Err: boom}, nil)
	p.now = fixedClock(8)

	s := p.Produce(context.Background())
	if s.BatteryKnown() {
		t.Fatalf("expected unknown battery, got %d", s.Battery)
	}
	if len(s.Connectivity) != 0 {
		t.Fatalf("expected no connectivity, got %v", s.Connectivity)
	}
	if s.Hour != 8 {
		t.Fatalf("expected hour 8, got %d", s.Hour)
	}
}

func TestProduceNilProbes(t *testing.T) {
	p := NewProducer(nil, nil, nil)
	if s := p.Produce(context.Background()); s.BatteryKnown() {
		t.Fatalf("expected unknown battery, got %d", s.Battery)
	}
}

// #endregion producer-tests

// #region sysfs-tests

func TestSysfsBattery(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "AC", "online"), "1\n")
	writeFile(t, filepath.Join(dir, "BAT0", "capacity"), "57\n")

	n, err := (&SysfsBattery{Dir: dir}).Battery(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 57 {
		t.Fatalf("expected 57, got %d", n)
	}
}

func TestSysfsBatteryMissing(t *testing.T) {
	_, err := (&SysfsBattery{Dir: t.TempDir()}).Battery(context.Background())
	if !errors.Is(err, ErrNoBattery) {
		t.Fatalf("expected ErrNoBattery, got %v", err)
	}
}

func TestSysfsNetwork(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "lo", "operstate"), "unknown\n")
	writeFile(t, filepath.Join(dir, "wlan0", "operstate"), "up\n")
	writeFile(t, filepath.Join(dir, "wlan0", "wireless", "link"), "")
	writeFile(t, filepath.Join(dir, "usb0", "operstate"), "up\n")
	writeFile(t, filepath.Join(dir, "eth0", "operstate"), "down\n")

	p := NewSysfsProducer(ProducerConfig{
		PowerSupplyDir:    t.TempDir(),
		NetClassDir:       dir,
		HotspotInterfaces: []string{"usb"},
	}, nil)
	p.now = fixedClock(14)

	s := p.Produce(context.Background())
	want := NewSnapshot(BatteryUnknown, 14, ConnWifi, ConnHotspot)
	if diff := cmp.Diff(want, s); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

// #endregion sysfs-tests
