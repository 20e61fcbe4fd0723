package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/config"
	"github.com/muurk/sensornode/internal/logging"
	"github.com/muurk/sensornode/internal/mesh"
	"github.com/muurk/sensornode/internal/node"
	"github.com/muurk/sensornode/internal/nodeconfig"
	"github.com/muurk/sensornode/internal/nvs"
	"github.com/muurk/sensornode/internal/ota"
	"github.com/muurk/sensornode/internal/provisioning"
	"github.com/muurk/sensornode/internal/ui"
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(factoryResetCmd)
	rootCmd.AddCommand(otaCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(gatewayCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node",
	Long: `Boot the node and run until interrupted.

A restart requested by the button, a factory reset or a committed OTA
update makes the process exit with restart.exit_code, so the service
supervisor starts it again on the new state.`,
	RunE: runNode,
}

func runNode(cmd *cobra.Command, args []string) error {
	if logLevel == "" {
		if err := logging.Initialize(settings.Log.Level); err != nil {
			return err
		}
	}

	deps, err := node.OpenDeps(*settings)
	if err != nil {
		return err
	}

	n, err := node.New(*settings, *deps)
	if err != nil {
		deps.Close()
		return err
	}
	if _, err := n.Boot(); err != nil {
		deps.Close()
		return fmt.Errorf("boot failed: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	runErr := n.Run(ctx)
	if cerr := deps.Close(); cerr != nil {
		logging.Warn("Closing collaborators failed", zap.Error(cerr))
	}

	var re *node.RestartError
	if errors.As(runErr, &re) {
		node.NewExitRestarter(settings.Restart.ExitCode).Restart(re.Reason)
	}
	return runErr
}

// openStore opens the node config store named in the settings.
func openStore() (*nodeconfig.Store, error) {
	policy, err := nodeconfig.ParseIdentityPolicy(settings.Store.IdentityPolicy)
	if err != nil {
		return nil, err
	}
	fs, err := nvs.OpenFile(settings.Store.Path, node.StoreNamespace)
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	opts := nodeconfig.DefaultOptions()
	opts.Policy = policy
	return nodeconfig.New(fs, opts), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change the stored node config",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored node config",
	Long: `Print every persisted field of the node config.

The store is only read: missing fields show their defaults, missing keys
show as unset, and the boot counter is not incremented.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		rec, err := store.Peek()

		p := ui.NewPrinter(nil)
		p.PrintHeader("Node config", "sensornode config show", ui.Detail{Key: "Store", Value: settings.Store.Path})
		p.Println(ui.RenderRecord(rec))
		if err != nil {
			p.Newline()
			p.PrintWarning("Some fields could not be read", ui.Detail{Key: "Error", Value: err.Error()})
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one stored field",
	Example: `  sensornode config set node_name "Greenhouse 2"
  sensornode config set drop_ch 6
  sensornode config set drop_enc aes256`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := nodeconfig.ParseField(args[0])
		if err != nil {
			return err
		}
		v, err := nodeconfig.ParseValue(f, args[1])
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		if err := store.Set(f, v); err != nil {
			return err
		}
		ui.NewPrinter(nil).PrintSuccess("Field updated",
			ui.Detail{Key: "Key", Value: f.Key()},
			ui.Detail{Key: "Value", Value: nodeconfig.Value(store.Snapshot(), f)},
		)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.WriteDefault(settingsPath)
		if err != nil {
			return err
		}
		ui.NewPrinter(nil).PrintSuccess("Settings written", ui.Detail{Key: "Path", Value: path})
		return nil
	},
}

var assumeYes bool

var factoryResetCmd = &cobra.Command{
	Use:   "factory-reset",
	Short: "Erase the node identity",
	Long: `Clear the provisioned flag and erase the node keys and GUID.

New keys and a new GUID are generated the next time the node boots. Do
not run this against the store of a running node; hold its button
instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !assumeYes && !ui.FactoryResetConfirmation(os.Stdin, os.Stdout) {
			return nil
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		if err := store.FactoryReset(); err != nil {
			return err
		}
		ui.NewPrinter(nil).PrintSuccess("Identity erased", ui.Detail{Key: "Store", Value: settings.Store.Path})
		return nil
	},
}

func init() {
	factoryResetCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}

var otaCmd = &cobra.Command{
	Use:   "ota <url>",
	Short: "Download an image into the spare slot",
	Long: `Download a firmware image into the slot that is not running and mark
it for the next boot.

The running slot stays selected until the whole image has been written
and verified.`,
	Args: cobra.ExactArgs(1),
	RunE: runOTA,
}

func runOTA(cmd *cobra.Command, args []string) error {
	url := args[0]
	p := ui.NewPrinter(nil)
	p.PrintHeader("OTA update", "sensornode ota",
		ui.Detail{Key: "Source", Value: url},
		ui.Detail{Key: "Partitions", Value: settings.OTA.PartitionDir},
	)

	parts, err := ota.OpenDir(settings.OTA.PartitionDir)
	if err != nil {
		return err
	}

	opts := ota.DefaultOptions()
	opts.ChunkSize = settings.OTA.ChunkSize
	opts.RetryInterval = settings.OTA.RetryInterval
	opts.MaxAttempts = settings.OTA.MaxAttempts
	opts.ExpectedDigest = settings.OTA.ExpectedDigest
	opts.OnProgress = p.PrintProgress

	pipeline, err := ota.NewPipeline(ota.NewHTTPTransport(settings.OTA.RequestTimeout), parts, opts)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	start := time.Now()
	written, err := pipeline.PerformUpdate(ctx, url)
	if err != nil {
		p.PrintError("Update failed", err,
			"The running image is still selected for boot",
			"Check the URL serves the image with a Content-Length",
			"Set ota.max_attempts to stop retrying an unreachable server")
		return err
	}

	boot, _ := parts.Boot()
	p.PrintSuccess("Update committed",
		ui.Detail{Key: "Written", Value: ui.FormatBytes(written)},
		ui.Detail{Key: "Boot slot", Value: boot.Label},
		ui.Detail{Key: "Took", Value: time.Since(start).Round(time.Millisecond).String()},
	)
	return nil
}

var scanTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find nodes with an open pairing window",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := provisioning.NewScanner()
		s.Timeout = scanTimeout
		if settings.Provisioning.Service != "" {
			s.Service = settings.Provisioning.Service
		}
		if settings.Provisioning.Domain != "" {
			s.Domain = settings.Provisioning.Domain
		}

		ctx, stop := signalContext()
		defer stop()

		fmt.Printf("Scanning for nodes (timeout: %s)...\n\n", scanTimeout)
		nodes, err := s.Scan(ctx)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		fmt.Println(ui.RenderNodes(nodes))
		return nil
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&scanTimeout, "timeout", provisioning.DefaultScanTimeout, "How long to listen for nodes")
}

var (
	gatewayListen string
	autoPair      bool
	autoChannel   uint8
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run a development mesh gateway",
	Long: `Serve the websocket endpoint nodes use as their mesh link.

Frames sent by nodes are logged. With --auto-pair every pairing window a
node opens is answered with a successful pairing, and with --channel every
node that connects is told it attached on that channel.`,
	Example: `  sensornode gateway --listen :8765 --auto-pair --channel 6 --log-level info`,
	RunE: runGateway,
}

func init() {
	gatewayCmd.Flags().StringVar(&gatewayListen, "listen", ":8765", "Listen address")
	gatewayCmd.Flags().BoolVar(&autoPair, "auto-pair", false, "Accept every pairing request")
	gatewayCmd.Flags().Uint8Var(&autoChannel, "channel", 0, "Channel to report on attach (0 disables)")
}

func runGateway(cmd *cobra.Command, args []string) error {
	gw := mesh.NewGateway()
	gw.OnNode = func(info mesh.NodeInfo) {
		logging.Info("Node connected", zap.String("guid", info.GUID), zap.String("name", info.Name))
		if autoChannel == 0 {
			return
		}
		if err := gw.Attach(info.GUID, autoChannel); err != nil {
			logging.Warn("Attach failed", zap.String("guid", info.GUID), zap.Error(err))
		}
	}
	gw.OnFrame = func(guid string, f mesh.Frame) {
		logging.Info("Frame", zap.String("guid", guid), zap.Int("len", len(f.Payload)), zap.Int8("rssi", f.RSSI))
	}
	gw.OnPair = func(guid string, window time.Duration) {
		logging.Info("Pairing window opened", zap.String("guid", guid), zap.Duration("window", window))
		if !autoPair {
			return
		}
		if err := gw.Paired(guid, mesh.PairingResult{Success: true, Peer: "gateway"}); err != nil {
			logging.Warn("Pairing reply failed", zap.String("guid", guid), zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              gatewayListen,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signalContext()
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	fmt.Printf("Gateway listening on %s\n", gatewayListen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
