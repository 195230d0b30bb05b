package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/knxnetip/internal/bridge"
	"github.com/nerrad567/knxnetip/internal/infrastructure/config"
	"github.com/nerrad567/knxnetip/internal/infrastructure/logging"
	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/client"
)

// defaultConnectTimeout bounds the connect of one-shot commands.
const defaultConnectTimeout = 10 * time.Second

// globalFlags are the connection flags shared by every bus command. Set
// flags override the config file and the environment.
type globalFlags struct {
	configPath     string
	gateway        string
	port           int
	iface          string
	forceTunneling bool
	logLevel       string
	timeout        time.Duration
}

func (g *globalFlags) register(root *cobra.Command) {
	f := root.PersistentFlags()
	f.StringVarP(&g.configPath, "config", "c", os.Getenv("KNXNETIP_CONFIG"), "YAML config file (env KNXNETIP_CONFIG)")
	f.StringVarP(&g.gateway, "gateway", "g", "", "Gateway IP or routing multicast address")
	f.IntVarP(&g.port, "port", "p", 0, "Gateway UDP port (default 3671)")
	f.StringVarP(&g.iface, "interface", "i", "", "Local network interface")
	f.BoolVar(&g.forceTunneling, "force-tunneling", false, "Tunnel even to a multicast address")
	f.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.DurationVar(&g.timeout, "timeout", defaultConnectTimeout, "Connect and command timeout for one-shot commands")
}

// loadConfig reads the config file and applies the flags, then validates.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Read(g.configPath)
	if err != nil {
		return nil, err
	}

	if g.gateway != "" {
		cfg.KNX.Gateway = g.gateway
	}
	if g.port != 0 {
		cfg.KNX.Port = g.port
	}
	if g.iface != "" {
		cfg.KNX.Interface = g.iface
	}
	if g.forceTunneling {
		cfg.KNX.ForceTunneling = true
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// cliLogger is the logger for one-shot commands: text on stderr, warnings
// and above unless --log-level says otherwise.
func (g *globalFlags) cliLogger() *logging.Logger {
	level := g.logLevel
	if level == "" {
		level = "warn"
	}
	return logging.CLI(level)
}

// connectionOptions converts the knx config section into client options.
//
// Parameters:
//   - k: The knx section of the configuration
//
// Returns:
//   - client.Options: Options for client.New
//   - error: If the gateway or phys_addr does not parse
func connectionOptions(k config.KNXConfig) (client.Options, error) {
	ip, err := netip.ParseAddr(k.Gateway)
	if err != nil {
		return client.Options{}, fmt.Errorf("gateway %q: %w", k.Gateway, err)
	}

	t := k.ConnectionTimings()
	opts := client.Options{
		IPAddr:                   ip,
		IPPort:                   uint16(k.Port), //nolint:gosec // validated 1-65535
		Interface:                k.Interface,
		ForceTunneling:           k.ForceTunneling,
		DisableAutoReconnect:     !k.AutoReconnect,
		ReconnectDelay:           t.ReconnectDelay,
		ReceiveAckTimeout:        t.ReceiveAckTimeout,
		MinimumDelay:             t.MinimumDelay,
		ConnstateRequestInterval: t.ConnstateRequestInterval,
		ConnstateResponseTimeout: t.ConnstateResponseTimeout,
		DisconnectTimeout:        t.DisconnectTimeout,
	}
	if k.PhysAddr != "" {
		pa, err := address.ParseDevice(k.PhysAddr)
		if err != nil {
			return client.Options{}, fmt.Errorf("phys_addr: %w", err)
		}
		opts.PhysAddr = pa
	}
	return opts, nil
}

// session is an open connection for a one-shot command.
type session struct {
	cfg     *config.Config
	log     *logging.Logger
	conn    *client.Connection
	timeout time.Duration
}

// openSession loads the config and connects. Auto-reconnect is off so an
// unreachable gateway fails within --timeout. The caller must call close.
func (g *globalFlags) openSession(ctx context.Context) (*session, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	log := g.cliLogger()

	opts, err := connectionOptions(cfg.KNX)
	if err != nil {
		return nil, err
	}
	opts.DisableAutoReconnect = true

	conn, err := client.New(opts, log)
	if err != nil {
		return nil, fmt.Errorf("creating connection: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := conn.Connect(connectCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to %s: %w", opts.Remote(), err)
	}
	log.Debug("connected", "gateway", opts.Remote().String(), "tunneling", conn.Tunneling())

	return &session{cfg: cfg, log: log, conn: conn, timeout: g.timeout}, nil
}

// executor returns a command executor for the session using the configured
// datapoint types. Commands are bounded by --timeout.
func (s *session) executor() *bridge.Executor {
	return bridge.NewExecutor(bridge.ExecutorOptions{
		Sender:  s.conn,
		DPTs:    s.cfg.Bridge.DPTs,
		Timeout: s.timeout,
		Logger:  s.log,
	})
}

// close disconnects politely, then releases the connection.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultDisconnectTimeout)
	defer cancel()
	if err := s.conn.Disconnect(ctx); err != nil {
		s.log.Debug("disconnect", "error", err)
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug("close", "error", err)
	}
}
