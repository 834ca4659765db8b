package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jiaming2012/terminal-sync/src/dbutils"
	"github.com/jiaming2012/terminal-sync/src/eventmodels"
	"github.com/jiaming2012/terminal-sync/src/ledger"
	"github.com/jiaming2012/terminal-sync/src/monitor"
	"github.com/jiaming2012/terminal-sync/src/replica"
	"github.com/jiaming2012/terminal-sync/src/session"
	"github.com/jiaming2012/terminal-sync/src/utils"
)

type Config struct {
	GatewayURL            string   `yaml:"gatewayUrl"`
	AuthToken             string   `yaml:"authToken"`
	AccountIDs            []string `yaml:"accountIds"`
	PostgresURL           string   `yaml:"postgresUrl"`
	MetricsAddr           string   `yaml:"metricsAddr"`
	HealthIntervalSeconds int      `yaml:"healthIntervalSeconds"`
	ExportDir             string   `yaml:"exportDir"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loadConfig: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("loadConfig: failed to parse %s: %w", path, err)
	}

	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TERMINAL_AUTH_TOKEN")
	}

	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("loadConfig: gatewayUrl is required")
	}

	if len(cfg.AccountIDs) == 0 {
		return nil, fmt.Errorf("loadConfig: at least one account id is required")
	}

	return &cfg, nil
}

type accountRuntime struct {
	state   *replica.TerminalState
	history *ledger.HistoryStorage
	health  *monitor.HealthMonitor
	latency *monitor.LatencyMonitor
}

var rootCmd = &cobra.Command{
	Use:   "terminal-sync --config config.yaml",
	Short: "Maintain a live local mirror of remote trading terminal state",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			log.Fatalf("error getting config: %v", err)
		}

		projectDir, err := cmd.Flags().GetString("project-dir")
		if err != nil {
			log.Fatalf("error getting project-dir: %v", err)
		}

		goEnv, err := cmd.Flags().GetString("go-env")
		if err != nil {
			log.Fatalf("error getting go-env: %v", err)
		}

		if err := utils.InitEnvironmentVariables(projectDir, goEnv); err != nil {
			log.Fatalf("error initializing environment variables: %v", err)
		}

		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("error loading config: %v", err)
		}

		if err := run(cfg); err != nil {
			log.Fatalf("terminal-sync: %v", err)
		}
	},
}

func run(cfg *Config) error {
	ctx := context.Background()

	var store ledger.Store
	if cfg.PostgresURL != "" {
		db, err := dbutils.InitPostgresWithUrl(cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("run: failed to initialize postgres: %w", err)
		}
		store = dbutils.NewGormHistoryStore(db)
	}

	sess := session.NewTerminalSession(cfg.GatewayURL, cfg.AuthToken)

	// Request round trips are account-agnostic, so one monitor covers them all.
	requestLatency := monitor.NewLatencyMonitor()
	sess.SetLatencyRecorder(requestLatency)

	healthInterval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	accounts := make(map[string]*accountRuntime, len(cfg.AccountIDs))
	for _, accountID := range cfg.AccountIDs {
		state := replica.NewTerminalState(accountID)
		history := ledger.NewHistoryStorage(accountID, store)
		latency := monitor.NewLatencyMonitor()
		health := monitor.NewHealthMonitor(state, healthInterval, monitor.DefaultQuoteStaleThreshold)

		if err := history.Initialize(ctx); err != nil {
			return fmt.Errorf("run: %w", err)
		}

		sess.AddListener(accountID, state)
		sess.AddListener(accountID, history)
		sess.AddListener(accountID, latency)

		accounts[accountID] = &accountRuntime{
			state:   state,
			history: history,
			health:  health,
			latency: latency,
		}
	}

	subscribeAll := func() {
		for accountID := range accounts {
			callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			_, err := sess.Call(callCtx, accountID, eventmodels.RpcRequest{"type": "subscribe"})
			cancel()

			if err != nil {
				log.Errorf("failed to subscribe account %s: %v", accountID, err)
			}
		}
	}

	if err := sess.AddReconnectListener(func() {
		log.Info("reconnected, resubscribing accounts")
		for _, acc := range accounts {
			acc.history.OnReconnected()
		}
		subscribeAll()
	}); err != nil {
		return fmt.Errorf("run: failed to register reconnect listener: %w", err)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := sess.Connect(connectCtx); err != nil {
		return fmt.Errorf("run: failed to connect: %w", err)
	}

	subscribeAll()

	for _, acc := range accounts {
		acc.health.Start()

		syncCtx, cancelSync := context.WithTimeout(ctx, 5*time.Minute)
		if err := acc.state.WaitSynchronized(syncCtx); err != nil {
			log.Warnf("initial synchronization incomplete: %v", err)
		}
		cancelSync()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for accountID, acc := range accounts {
				printSnapshot(accountID, acc)
			}
		case sig := <-stop:
			log.Infof("received %v, shutting down", sig)
			return shutdown(ctx, cfg, sess, accounts)
		}
	}
}

func shutdown(ctx context.Context, cfg *Config, sess *session.TerminalSession, accounts map[string]*accountRuntime) error {
	sess.Close()

	for accountID, acc := range accounts {
		acc.health.Stop()

		flushCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := acc.history.Flush(flushCtx); err != nil {
			log.Errorf("failed to flush history for account %s: %v", accountID, err)
		}
		cancel()

		if cfg.ExportDir != "" {
			deals := acc.history.GetDeals()
			dealPtrs := make([]*eventmodels.Deal, 0, len(deals))
			for i := range deals {
				dealPtrs = append(dealPtrs, &deals[i])
			}

			csvPath, err := utils.ExportDealsToCsv(cfg.ExportDir, dealPtrs, fmt.Sprintf("deals-%s", accountID))
			if err != nil {
				log.Errorf("failed to export deals for account %s: %v", accountID, err)
			} else {
				log.Infof("deal history written to %s", csvPath)
			}
		}
	}

	return nil
}

func printSnapshot(accountID string, acc *accountRuntime) {
	status := acc.health.GetHealthStatus()
	uptime := acc.health.GetUptime()

	log.WithFields(log.Fields{
		"account":   accountID,
		"healthy":   status.Healthy,
		"uptime_1h": fmt.Sprintf("%.1f%%", uptime[utils.WindowOneHour]),
	}).Info(status.Message)

	positions := acc.state.GetPositions()
	if len(positions) == 0 {
		return
	}

	var display strings.Builder
	display.WriteString(fmt.Sprintf("Positions for account %s:\n", accountID))

	table := tablewriter.NewWriter(&display)
	table.SetHeader([]string{"ID", "Symbol", "Type", "Volume", "Open", "Current", "Profit"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, p := range positions {
		table.Append([]string{
			p.ID,
			p.Symbol,
			string(p.Type),
			fmt.Sprintf("%.2f", p.Volume),
			fmt.Sprintf("%.5f", p.OpenPrice),
			fmt.Sprintf("%.5f", p.CurrentPrice),
			fmt.Sprintf("%.2f", p.Profit),
		})
	}

	table.Render()
	fmt.Println(display.String())
}

func main() {
	rootCmd.Flags().String("config", "config.yaml", "Path to the yaml config file")
	rootCmd.Flags().String("project-dir", ".", "Directory containing the .env files")
	rootCmd.Flags().String("go-env", "development", "The go environment to run the app in")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
