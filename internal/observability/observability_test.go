package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/israelio/amqp10-go-client/internal/config"
)

// TestSetupLoggerFile writes records to a file output
func TestSetupLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "amqp.log")
	logger, err := SetupLogger(config.LogConfig{Level: "debug", Format: "json", Outputs: []string{path}})
	if err != nil {
		t.Fatalf("SetupLogger failed: %v", err)
	}
	logger.Debug("frame received")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "frame received") {
		t.Errorf("Log file: got %q, want record", data)
	}
}

// TestSetupLoggerLevels filters records below the configured level
func TestSetupLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		debug bool
	}{
		{level: "debug", debug: true},
		{level: "info", debug: false},
		{level: "bogus", debug: false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := SetupLogger(config.LogConfig{Level: tt.level, Outputs: []string{"stderr"}})
			if err != nil {
				t.Fatalf("SetupLogger failed: %v", err)
			}
			if got := logger.Core().Enabled(-1); got != tt.debug {
				t.Errorf("Debug enabled: got %v, want %v", got, tt.debug)
			}
		})
	}
}

// TestRegisterMetricsAndRecorders checks idempotent registration and counting
func TestRegisterMetricsAndRecorders(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	before := testutil.ToFloat64(frames.WithLabelValues("in", "amqp:open:list"))
	RecordFrame("in", "amqp:open:list")
	if got := testutil.ToFloat64(frames.WithLabelValues("in", "amqp:open:list")); got != before+1 {
		t.Errorf("Frames: got %v, want %v", got, before+1)
	}

	RecordOpened("link")
	RecordClosed("link")
	if got := testutil.ToFloat64(endpointsOpen.WithLabelValues("link")); got != 0 {
		t.Errorf("Open links: got %v, want 0", got)
	}

	RecordMessage("out", 10)
	RecordSettlement("accepted")
	RecordError("session")

	if err := prometheus.Register(frames); err == nil {
		t.Error("Expected duplicate registration error")
	}
}
