package commands

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/xnet/internal/cli/output"
	"github.com/marmos91/xnet/pkg/admin"
	"github.com/marmos91/xnet/pkg/apiclient"
	"github.com/marmos91/xnet/pkg/bufpool"
	"github.com/marmos91/xnet/pkg/config"
)

var (
	statusAdmin  string
	statusPool   bool
	statusKick   uint64
	statusOutput string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Query a running server through its admin API and list its live
connections.

Examples:
  # Status of the server configured locally
  xnet status

  # Include buffer pool statistics
  xnet status --pool

  # Query a remote admin API as JSON
  xnet status --admin 10.0.0.5:7480 -o json

  # Close connection 42
  xnet status --kick 42`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAdmin, "admin", "", "Admin API address (default from config)")
	statusCmd.Flags().BoolVar(&statusPool, "pool", false, "Include buffer pool statistics")
	statusCmd.Flags().Uint64Var(&statusKick, "kick", 0, "Close the connection with this id, then show status")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus is what 'xnet status' reports.
type ServerStatus struct {
	Admin       string                 `json:"admin" yaml:"admin"`
	Service     string                 `json:"service" yaml:"service"`
	Active      int32                  `json:"active_connections" yaml:"active_connections"`
	Connections []admin.ConnectionInfo `json:"connections" yaml:"connections"`
	Pool        []bufpool.ClassStats   `json:"pool,omitempty" yaml:"pool,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(statusOutput)
	if err != nil {
		return err
	}

	addr := statusAdmin
	if addr == "" {
		cfg, err := config.Load(GetConfigFile())
		if err != nil {
			return err
		}
		addr = net.JoinHostPort(cfg.Admin.BindAddress, strconv.Itoa(cfg.Admin.Port))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	status, err := fetchStatus(ctx, apiclient.New(addr), addr)
	if err != nil {
		return err
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(status)
	}

	if err := output.KeyValues(printer.Writer(), [][2]string{
		{"Admin", status.Admin},
		{"Service", status.Service},
		{"Active connections", strconv.Itoa(int(status.Active))},
	}); err != nil {
		return err
	}
	printer.Printf("\n")
	if len(status.Connections) == 0 {
		printer.Printf("No connections\n")
	} else if err := printer.Print(output.ConnectionList(status.Connections)); err != nil {
		return err
	}

	if status.Pool != nil {
		printer.Printf("\n")
		return printer.Print(output.PoolStats(status.Pool))
	}
	return nil
}

func fetchStatus(ctx context.Context, client *apiclient.Client, addr string) (*ServerStatus, error) {
	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin API at %s unreachable: %w", addr, err)
	}

	if statusKick != 0 {
		if err := client.Kick(ctx, statusKick); err != nil {
			return nil, fmt.Errorf("failed to kick connection %d: %w", statusKick, err)
		}
	}

	conns, err := client.Connections(ctx)
	if err != nil {
		return nil, err
	}

	status := &ServerStatus{
		Admin:       addr,
		Service:     health.Service,
		Active:      health.ActiveConnections,
		Connections: conns,
	}
	if statusPool {
		if status.Pool, err = client.PoolStats(ctx); err != nil {
			return nil, err
		}
	}
	return status, nil
}
