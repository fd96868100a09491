package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/xnet/internal/cli/output"
	"github.com/marmos91/xnet/internal/demo"
	"github.com/marmos91/xnet/pkg/config"
	"github.com/marmos91/xnet/pkg/host"
	"github.com/marmos91/xnet/pkg/xnet"
)

var (
	pingCount    int
	pingInterval time.Duration
	pingText     string
	pingNetwork  string
	pingHost     string
	pingPort     int
	pingTimeout  time.Duration
	pingOutput   string
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure echo round trips to a server",
	Long: `Connect to an xnet server, send echo requests and report their latency.

The target defaults to the client section of the configuration.

Examples:
  # Five round trips to the configured server
  xnet ping

  # Twenty round trips over WebSocket
  xnet ping --network ws --host 10.0.0.5 --port 7400 -n 20

  # Machine readable
  xnet ping -o json`,
	RunE: runPing,
}

func init() {
	pingCmd.Flags().IntVarP(&pingCount, "count", "n", 5, "Number of echo requests")
	pingCmd.Flags().DurationVarP(&pingInterval, "interval", "i", 200*time.Millisecond, "Wait between requests")
	pingCmd.Flags().StringVar(&pingText, "text", "ping", "Echo payload")
	pingCmd.Flags().StringVar(&pingNetwork, "network", "", "Transport: tcp or ws (default from config)")
	pingCmd.Flags().StringVar(&pingHost, "host", "", "Server host (default from config)")
	pingCmd.Flags().IntVarP(&pingPort, "port", "p", 0, "Server port (default from config)")
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 0, "Per-request timeout (default from config)")
	pingCmd.Flags().StringVarP(&pingOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	applyPingFlags(cmd, &cfg.Client)

	printer, err := newPrinter(pingOutput)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := host.NewClient(cfg.Client.Network, newConnConfig(nil))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	target := net.JoinHostPort(cfg.Client.Host, strconv.Itoa(cfg.Client.Port))
	conn, err := client.Dial(ctx, cfg.Client.Host, cfg.Client.Port)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	defer conn.Kick()

	trips := measure(ctx, conn, pingCount, pingInterval, cfg.Client.RequestTimeout, pingText)
	report := output.NewLatencyReport(target, trips)
	if err := printer.Print(report); err != nil {
		return err
	}

	if report.Summary.Received == 0 {
		return errors.New("no echo response received")
	}
	return nil
}

func applyPingFlags(cmd *cobra.Command, c *config.ClientConfig) {
	flags := cmd.Flags()
	if flags.Changed("network") {
		c.Network = pingNetwork
	}
	if flags.Changed("host") {
		c.Host = pingHost
	}
	if flags.Changed("port") {
		c.Port = pingPort
	}
	if flags.Changed("timeout") {
		c.RequestTimeout = pingTimeout
	}
}

// measure sends count echo requests over conn, one at a time, and times each
// round trip. It stops early when ctx ends or the connection closes.
func measure(ctx context.Context, conn *xnet.Connection, count int, interval, timeout time.Duration, text string) []output.RoundTrip {
	trips := make([]output.RoundTrip, 0, count)

	for seq := 1; seq <= count; seq++ {
		trips = append(trips, roundTrip(ctx, conn, seq, timeout, text))

		if seq == count || conn.IsClosed() {
			break
		}
		select {
		case <-ctx.Done():
			return trips
		case <-time.After(interval):
		}
	}
	return trips
}

func roundTrip(ctx context.Context, conn *xnet.Connection, seq int, timeout time.Duration, text string) output.RoundTrip {
	trip := output.RoundTrip{Seq: seq}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := conn.Execute(reqCtx, &demo.EchoRequest{Text: text, SentAt: start})
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		trip.Err = "timeout"
	case errors.Is(err, xnet.ErrClosed):
		trip.Err = "connection closed"
	case err != nil:
		trip.Err = err.Error()
	default:
		echo, ok := resp.(*demo.EchoResponse)
		if !ok || echo.Text != text {
			trip.Err = "unexpected response"
			break
		}
		trip.Latency = elapsed
	}
	return trip
}
