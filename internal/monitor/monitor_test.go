package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"sortline/internal/config"
	"sortline/internal/logging"
)

type fakeHost struct {
	procRoot string
	sysRoot  string
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	root := t.TempDir()
	host := &fakeHost{
		procRoot: filepath.Join(root, "proc"),
		sysRoot:  filepath.Join(root, "sys"),
	}
	if err := os.MkdirAll(filepath.Join(host.procRoot, "net"), 0o755); err != nil {
		t.Fatalf("mkdir proc: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(host.sysRoot, "class/thermal/thermal_zone0"), 0o755); err != nil {
		t.Fatalf("mkdir sys: %v", err)
	}
	host.setStat(t, 1000, 9000)
	host.setMeminfo(t, 8_000_000, 6_000_000)
	host.setTemp(t, 45_000)
	host.setNetDev(t, 1024, 2048)
	return host
}

func (h *fakeHost) setStat(t *testing.T, idle, busy uint64) {
	t.Helper()
	// user nice system idle iowait irq softirq
	content := "cpu  " +
		formatUint(busy) + " 0 0 " + formatUint(idle) + " 0 0 0\n" +
		"cpu0 0 0 0 0 0 0 0\n"
	if err := os.WriteFile(filepath.Join(h.procRoot, "stat"), []byte(content), 0o644); err != nil {
		t.Fatalf("write stat: %v", err)
	}
}

func (h *fakeHost) setMeminfo(t *testing.T, totalKB, availableKB uint64) {
	t.Helper()
	content := "MemTotal:       " + formatUint(totalKB) + " kB\n" +
		"MemFree:        1000 kB\n" +
		"MemAvailable:   " + formatUint(availableKB) + " kB\n"
	if err := os.WriteFile(filepath.Join(h.procRoot, "meminfo"), []byte(content), 0o644); err != nil {
		t.Fatalf("write meminfo: %v", err)
	}
}

func (h *fakeHost) setTemp(t *testing.T, milli int64) {
	t.Helper()
	path := filepath.Join(h.sysRoot, "class/thermal/thermal_zone0/temp")
	if err := os.WriteFile(path, []byte(formatInt(milli)+"\n"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
}

func (h *fakeHost) setNetDev(t *testing.T, rx, tx uint64) {
	t.Helper()
	content := "Inter-|   Receive                                                |  Transmit\n" +
		" face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed\n" +
		"    lo:  999999    100    0    0    0     0          0         0   999999    100    0    0    0     0       0          0\n" +
		"  eth0: " + formatUint(rx) + "    10    0    0    0     0          0         0 " + formatUint(tx) + "    10    0    0    0     0       0          0\n"
	if err := os.WriteFile(filepath.Join(h.procRoot, "net/dev"), []byte(content), 0o644); err != nil {
		t.Fatalf("write net/dev: %v", err)
	}
}

func formatUint(v uint64) string { return formatInt(int64(v)) }

func formatInt(v int64) string {
	if v == 0 {
		return "0"
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func newTestSampler(host *fakeHost) *Sampler {
	cfg := config.Default().Monitoring
	sampler := NewSampler(cfg, logging.NewNop(), nil)
	sampler.procRoot = host.procRoot
	sampler.sysRoot = host.sysRoot
	return sampler
}

func TestSampleOnceReadsHost(t *testing.T) {
	host := newFakeHost(t)
	sampler := newTestSampler(host)

	sample, err := sampler.SampleOnce()
	if err != nil {
		t.Fatalf("SampleOnce: %v", err)
	}
	// First sample has no CPU baseline.
	if sample.CPUPercent != 0 {
		t.Fatalf("first CPU sample = %v, want 0", sample.CPUPercent)
	}
	if sample.MemoryPercent < 24.9 || sample.MemoryPercent > 25.1 {
		t.Fatalf("MemoryPercent = %v, want ~25", sample.MemoryPercent)
	}
	if sample.TemperatureC != 45 {
		t.Fatalf("TemperatureC = %v, want 45", sample.TemperatureC)
	}
	if sample.NetRxBytes != 1024 || sample.NetTxBytes != 2048 {
		t.Fatalf("net bytes = %d/%d", sample.NetRxBytes, sample.NetTxBytes)
	}
}

func TestCPUPercentFromDelta(t *testing.T) {
	host := newFakeHost(t)
	sampler := newTestSampler(host)

	if _, err := sampler.SampleOnce(); err != nil {
		t.Fatalf("baseline sample: %v", err)
	}
	// 1000 more busy jiffies, 1000 more idle: 50% utilization.
	host.setStat(t, 2000, 10000)
	sample, err := sampler.SampleOnce()
	if err != nil {
		t.Fatalf("second sample: %v", err)
	}
	if sample.CPUPercent < 49.9 || sample.CPUPercent > 50.1 {
		t.Fatalf("CPUPercent = %v, want ~50", sample.CPUPercent)
	}
}

func TestAlertsRaisedAndDeduplicated(t *testing.T) {
	host := newFakeHost(t)
	sampler := newTestSampler(host)

	var raised []Alert
	sampler.OnAlert(func(alert Alert) { raised = append(raised, alert) })

	host.setTemp(t, 75_000)
	for i := 0; i < 5; i++ {
		if _, err := sampler.SampleOnce(); err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
	}

	if len(raised) != 1 {
		t.Fatalf("expected one deduplicated temperature alert, got %d", len(raised))
	}
	if raised[0].Kind != AlertHighTemperature {
		t.Fatalf("alert kind = %s", raised[0].Kind)
	}
	if raised[0].ID == "" {
		t.Fatal("alert should carry an id")
	}
	if !sampler.Overheated() {
		t.Fatal("Overheated should report true at 75C")
	}

	host.setTemp(t, 60_000)
	if _, err := sampler.SampleOnce(); err != nil {
		t.Fatalf("cooldown sample: %v", err)
	}
	if !sampler.Cooled() {
		t.Fatal("Cooled should report true at 60C with resume point 65C")
	}
}

func TestHistoryBounded(t *testing.T) {
	host := newFakeHost(t)
	cfg := config.Default().Monitoring
	cfg.HistorySize = 3
	sampler := NewSampler(cfg, logging.NewNop(), nil)
	sampler.procRoot = host.procRoot
	sampler.sysRoot = host.sysRoot

	for i := 0; i < 10; i++ {
		if _, err := sampler.SampleOnce(); err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
	}
	if summary := sampler.Summary(); summary.Samples != 3 {
		t.Fatalf("retained %d samples, want 3", summary.Samples)
	}
}

func TestSummaryAggregates(t *testing.T) {
	host := newFakeHost(t)
	sampler := newTestSampler(host)

	if _, err := sampler.SampleOnce(); err != nil {
		t.Fatalf("sample: %v", err)
	}
	host.setTemp(t, 55_000)
	if _, err := sampler.SampleOnce(); err != nil {
		t.Fatalf("sample: %v", err)
	}

	summary := sampler.Summary()
	if summary.Samples != 2 {
		t.Fatalf("Samples = %d", summary.Samples)
	}
	if summary.PeakTempC != 55 {
		t.Fatalf("PeakTempC = %v, want 55", summary.PeakTempC)
	}
	if summary.Latest.TemperatureC != 55 {
		t.Fatalf("Latest.TemperatureC = %v", summary.Latest.TemperatureC)
	}
}
