package natsbridge

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/metric"
)

// startNATSContainer starts a NATS server and returns its client URL
func startNATSContainer(ctx context.Context, t *testing.T) string {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run tests against a NATS container")
	}

	req := testcontainers.ContainerRequest{
		Image:        "nats:2.11-alpine",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
		),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func connectedClient(ctx context.Context, t *testing.T, url string, opts ...ClientOption) *Client {
	t.Helper()
	c, err := NewClient(url, append([]ClientOption{WithMaxReconnects(0)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.WaitForConnection(ctx))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestIntegration_BridgeAcrossConnections(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	url := startNATSContainer(ctx, t)

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()
	pub := connectedClient(ctx, t, url, WithClientName("publisher"), WithClientMetrics(metrics))
	sub := connectedClient(ctx, t, url, WithClientName("subscriber"))
	assert.True(t, pub.IsHealthy())

	w := startWorker(t)
	sender, err := New(pub, WithSubjectPrefix("it"), WithMetrics(metrics))
	require.NoError(t, err)
	defer sender.Close()
	receiver, err := New(sub, WithSubjectPrefix("it"), WithMetrics(metrics))
	require.NoError(t, err)
	defer receiver.Close()

	local := dispatch.NewSignal("reading", dispatch.TypeOf[string](), dispatch.TypeOf[reading]())
	remote := dispatch.NewSignal("reading", dispatch.TypeOf[string](), dispatch.TypeOf[reading]())
	got := sink(t, remote, w)

	require.NoError(t, receiver.Import("readings", remote))
	require.NoError(t, sub.Flush(ctx))
	_, err = sender.Export(local, "readings")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, local.Emit(ctx, "hall", reading{Sensor: "t", Value: float64(i)}))
	}
	for i := 0; i < 3; i++ {
		select {
		case args := <-got:
			assert.Equal(t, "hall", args[0])
			assert.Equal(t, reading{Sensor: "t", Value: float64(i)}, args[1])
		case <-ctx.Done():
			t.Fatal("message did not cross the bridge")
		}
	}
}

func TestIntegration_ClientClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	url := startNATSContainer(ctx, t)

	c := connectedClient(ctx, t, url)
	_, err := c.Subscribe(ctx, "x", func(context.Context, []byte) {})
	require.NoError(t, err)
	require.NoError(t, c.Publish(ctx, "x", []byte("{}")))

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.ErrorIs(t, c.Publish(ctx, "x", nil), ErrNotConnected)
}
