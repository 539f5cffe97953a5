package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"sortline/internal/faults"
	"sortline/internal/logging"
)

// cameraMonitor listens for udev netlink events on the video4linux subsystem
// and reports hotplug of the configured capture device. Losing the camera
// mid-run is the most common hardware fault on the line; detecting the
// unplug immediately beats waiting for the next capture to fail.
type cameraMonitor struct {
	device  string
	logger  *slog.Logger
	handler func(ctx context.Context, action, device string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newCameraMonitor(device string, logger *slog.Logger, handler func(ctx context.Context, action, device string)) *cameraMonitor {
	device = strings.TrimSpace(device)
	if device == "" {
		return nil
	}
	return &cameraMonitor{
		device:  device,
		logger:  logging.NewComponentLogger(logger, "camera-monitor"),
		handler: handler,
	}
}

// Start begins listening for udev netlink events. A connect failure is not
// fatal: capture errors still surface through the pipeline.
func (m *cameraMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("netlink socket unavailable; camera hotplug detection disabled",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "run the daemon with permission to open netlink sockets"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("camera monitor started",
		logging.String(logging.FieldEventType, "camera_monitor_started"),
		logging.String("device", m.device),
	)
	return nil
}

// Stop shuts down the netlink listener.
func (m *cameraMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("camera monitor stopped",
		logging.String(logging.FieldEventType, "camera_monitor_stopped"),
	)
}

// Running reports whether the netlink listener is active.
func (m *cameraMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *cameraMonitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(events, errs, m.buildMatcher())
	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			m.handleEvent(ctx, uevent)
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
			)
		}
	}
}

// buildMatcher selects add/remove events on the video4linux subsystem.
func (m *cameraMonitor) buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

func (m *cameraMonitor) handleEvent(ctx context.Context, uevent netlink.UEvent) {
	devname := extractDeviceName(uevent)
	if devname == "" || devname != m.device {
		return
	}

	action := string(uevent.Action)
	switch action {
	case "remove":
		m.logger.Error("capture device removed",
			logging.String(logging.FieldEventType, "camera_removed"),
			logging.String("device", devname),
		)
	case "add":
		m.logger.Info("capture device attached",
			logging.String(logging.FieldEventType, "camera_attached"),
			logging.String("device", devname),
		)
	default:
		return
	}

	if m.handler != nil {
		m.handler(ctx, action, devname)
	}
}

func extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/dev/") {
			return "/dev/" + devname
		}
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	if len(parts) == 0 {
		return ""
	}
	return "/dev/" + parts[len(parts)-1]
}

// handleCameraEvent feeds camera hotplug into the recovery engine. A removal
// raises a hardware fault; re-attachment triggers the camera strategy to
// reopen the source.
func (d *Daemon) handleCameraEvent(ctx context.Context, action, device string) {
	eventCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_ = d.db.LogEvent(eventCtx, "camera_"+action, "camera-monitor", "warning",
		fmt.Sprintf("capture device %s: %s", device, action))
	cancel()

	if action != "remove" {
		return
	}
	fault := faults.Hardware(faults.SeverityCritical, "camera",
		fmt.Sprintf("capture device %s removed", device))
	if !d.engine.Handle(ctx, fault) {
		d.logger.Error("camera removal not recovered; awaiting re-attachment",
			logging.String("device", device),
		)
	}
}
