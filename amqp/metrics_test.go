package amqp

import (
	"errors"
	"sync"
	"testing"
)

// TestMetricsCollectorBasic tests basic metrics collection
func TestMetricsCollectorBasic(t *testing.T) {
	metrics := NewStandardMetricsCollector()

	// Simulate operations
	metrics.ConnectionOpened()
	metrics.SessionBegun()
	metrics.LinkAttached(RoleSender)
	metrics.MessageSent(10)
	metrics.MessageSent(20)
	metrics.MessageReceived(5)
	metrics.MessageSettled(outcomeName(&Accepted{}))
	metrics.MessageSettled(outcomeName(&Rejected{}))
	metrics.MessageSettled(outcomeName(&Released{}))
	metrics.MessageSettled(outcomeName(&Modified{}))
	metrics.MessageSettled(outcomeName(nil))
	metrics.LinkError(errors.New("boom"))

	if metrics.GetConnectionsOpened() != 1 {
		t.Errorf("Connections opened: got %d, want 1", metrics.GetConnectionsOpened())
	}
	if metrics.GetSessionsBegun() != 1 {
		t.Errorf("Sessions begun: got %d, want 1", metrics.GetSessionsBegun())
	}
	if metrics.GetLinksAttached() != 1 {
		t.Errorf("Links attached: got %d, want 1", metrics.GetLinksAttached())
	}
	if metrics.GetMessagesSent() != 2 {
		t.Errorf("Messages sent: got %d, want 2", metrics.GetMessagesSent())
	}
	if metrics.GetBytesSent() != 30 {
		t.Errorf("Bytes sent: got %d, want 30", metrics.GetBytesSent())
	}
	if metrics.GetBytesReceived() != 5 {
		t.Errorf("Bytes received: got %d, want 5", metrics.GetBytesReceived())
	}
	for name, got := range map[string]int64{
		"accepted": metrics.GetAccepted(),
		"rejected": metrics.GetRejected(),
		"released": metrics.GetReleased(),
		"modified": metrics.GetModified(),
		"settled":  metrics.GetSettled(),
	} {
		if got != 1 {
			t.Errorf("%s: got %d, want 1", name, got)
		}
	}
	if metrics.GetLinkErrors() != 1 {
		t.Errorf("Link errors: got %d, want 1", metrics.GetLinkErrors())
	}
}

// TestMetricsConcurrency tests concurrent metric updates
func TestMetricsConcurrency(t *testing.T) {
	metrics := NewStandardMetricsCollector()

	numGoroutines := 50
	opsPerGoroutine := 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				metrics.FrameSent("transfer")
				metrics.FrameReceived("disposition")
			}
		}()
	}
	wg.Wait()

	want := int64(numGoroutines * opsPerGoroutine)
	if got := metrics.GetFramesSent(); got != want {
		t.Errorf("Frames sent: got %d, want %d", got, want)
	}
	if got := metrics.GetFramesReceived(); got != want {
		t.Errorf("Frames received: got %d, want %d", got, want)
	}
}

// TestConnectionMetrics checks the counters a connection lifecycle drives
func TestConnectionMetrics(t *testing.T) {
	clientMetrics := NewStandardMetricsCollector()
	serverMetrics := NewStandardMetricsCollector()
	client, server := connPair(t, []ConnOption{WithMetrics(clientMetrics)}, []ConnOption{WithMetrics(serverMetrics)})
	cs, ss := sessionPair(t, client, server)
	snd, rcv := senderPair(t, cs, ss, []LinkOption{WithSettled()}, nil)
	ctx := testContext(t)

	if err := snd.Send(ctx, NewMessage([]byte("counted"))); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := rcv.Receive(ctx); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := client.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	<-server.Done()

	for name, m := range map[string]*StandardMetricsCollector{"client": clientMetrics, "server": serverMetrics} {
		if got := m.GetConnectionsOpened(); got != 1 {
			t.Errorf("%s connections opened: got %d, want 1", name, got)
		}
		if got := m.GetConnectionsClosed(); got != 1 {
			t.Errorf("%s connections closed: got %d, want 1", name, got)
		}
		if got := m.GetConnectionErrors(); got != 0 {
			t.Errorf("%s connection errors: got %d, want 0", name, got)
		}
		if got := m.GetSessionsBegun(); got != 1 {
			t.Errorf("%s sessions begun: got %d, want 1", name, got)
		}
	}
	if got := clientMetrics.GetSettled(); got != 1 {
		t.Errorf("client settled: got %d, want 1", got)
	}
	if got := serverMetrics.GetMessagesReceived(); got != 1 {
		t.Errorf("server messages received: got %d, want 1", got)
	}
}

// TestNoOpMetricsCollector checks the no-op collector is usable
func TestNoOpMetricsCollector(t *testing.T) {
	var m MetricsCollector = NewNoOpMetricsCollector()
	m.ConnectionOpened()
	m.MessageSettled("accepted")
	m.FrameSent("open")
}
