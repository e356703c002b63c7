package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/githubnext/gh-aw-firewall-sub005/accesslog"
	"github.com/githubnext/gh-aw-firewall-sub005/auditdb"
	"github.com/githubnext/gh-aw-firewall-sub005/hostfw"
	"github.com/githubnext/gh-aw-firewall-sub005/logging"
	"github.com/githubnext/gh-aw-firewall-sub005/orchestrate"
	"github.com/githubnext/gh-aw-firewall-sub005/report"
	"github.com/githubnext/gh-aw-firewall-sub005/topology"
)

var (
	runAllowDomains []string
	runBlockDomains []string
	runImage        string
	runMemLimit     string
	runPidsLimit    int
	runKeepLogs     bool
	runAuditDB      string
	runHostPorts    []string
	runDNSServers   []string
	runEnv          []string
	runBinds        []string
	runSSLBump      bool
	runSSLBumpCert  string
	runSSLBumpKey   string
	runAllowURLs    []string
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command...>",
	Short: "Run a command inside the egress-controlled sandbox",
	Long: `Run starts the proxy and workload containers on an isolated network,
installs host firewall rules that force all egress through the proxy, and
executes the command inside the workload container. The command's exit code
becomes awf's exit code. All resources are torn down afterwards, whether the
run succeeds or fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVar(&runAllowDomains, "allow-domains", nil, "domains to allow (comma-separated, wildcards like *.example.com supported)")
	runCmd.Flags().StringSliceVar(&runBlockDomains, "block-domains", nil, "domains to block even when a broader allow matches")
	runCmd.Flags().StringVar(&runImage, "image", "", "workload container image (default "+topology.DefaultWorkloadImage+")")
	runCmd.Flags().StringVar(&runMemLimit, "mem-limit", "", "workload memory limit, e.g. 2g")
	runCmd.Flags().IntVar(&runPidsLimit, "pids-limit", 0, "workload pids limit")
	runCmd.Flags().BoolVar(&runKeepLogs, "keep-logs", false, "preserve proxy logs after the run")
	runCmd.Flags().StringVar(&runAuditDB, "audit-db", "", "record per-request audit rows into this sqlite database")
	runCmd.Flags().StringSliceVar(&runHostPorts, "allow-host-ports", nil, "host ports the workload may reach directly, e.g. 5432")
	runCmd.Flags().StringSliceVar(&runDNSServers, "dns-servers", nil, "resolvers the workload may query directly (default none; Docker DNS still works)")
	runCmd.Flags().StringArrayVarP(&runEnv, "env", "e", nil, "environment variables for the workload (KEY=VALUE)")
	runCmd.Flags().StringArrayVar(&runBinds, "bind", nil, "bind mounts for the workload (host:container[:ro])")
	runCmd.Flags().BoolVar(&runSSLBump, "ssl-bump", false, "intercept TLS so --allow-urls can filter by URL path")
	runCmd.Flags().StringVar(&runSSLBumpCert, "ssl-bump-ca-cert", "", "CA certificate for TLS interception")
	runCmd.Flags().StringVar(&runSSLBumpKey, "ssl-bump-ca-key", "", "CA key for TLS interception")
	runCmd.Flags().StringSliceVar(&runAllowURLs, "allow-urls", nil, "https:// URL patterns allowed through TLS interception")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadPolicyConfig(runAllowDomains, runBlockDomains)
	if err != nil {
		return err
	}
	if runImage != "" {
		cfg.Workload.Image = runImage
	}
	if runMemLimit != "" {
		cfg.Workload.Memory = runMemLimit
	}
	if runPidsLimit > 0 {
		cfg.Workload.PidsLimit = runPidsLimit
	}
	if runAuditDB != "" {
		cfg.Logs.AuditDB = runAuditDB
	}
	cfg.HostAccess.Ports = append(cfg.HostAccess.Ports, runHostPorts...)
	if len(runDNSServers) > 0 {
		cfg.DNSServers = runDNSServers
	}
	cfg.Workload.Binds = append(cfg.Workload.Binds, runBinds...)
	if runSSLBump {
		cfg.SSLBump.Enabled = true
	}
	if runSSLBumpCert != "" {
		cfg.SSLBump.CACert = runSSLBumpCert
	}
	if runSSLBumpKey != "" {
		cfg.SSLBump.CAKey = runSSLBumpKey
	}
	cfg.SSLBump.AllowURLs = append(cfg.SSLBump.AllowURLs, runAllowURLs...)
	for _, kv := range runEnv {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --env %q: want KEY=VALUE", kv)
		}
		if cfg.Workload.Env == nil {
			cfg.Workload.Env = map[string]string{}
		}
		cfg.Workload.Env[k] = v
	}

	if err := validatePolicy(cfg); err != nil {
		return err
	}
	pol, err := compileProxyPolicy(cfg)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "awf-")
	if err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	plan := planFromConfig(cfg, workDir, args)

	engine := &orchestrate.DockerEngine{}
	if !engine.Available() {
		return errors.New("docker is not available: is the daemon running?")
	}
	rules := hostfw.NewInstaller(hostfw.Config{
		Subnet:     topology.Subnet,
		ProxyIP:    topology.ProxyIP,
		ProxyPort:  topology.ProxyPort,
		DNSServers: cfg.DNSServers,
	}, &hostfw.ExecRunner{}, logger)

	o := orchestrate.New(orchestrate.Options{
		Plan:     plan,
		Policy:   pol,
		KeepLogs: runKeepLogs,
	}, engine, rules, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
		<-sigCh
		os.Exit(130)
	}()

	var audit *auditCapture
	if cfg.Logs.AuditDB != "" {
		audit, err = startAuditCapture(ctx, cfg.Logs.AuditDB, o.RunID(), strings.Join(args, " "), plan.AccessLogPath(), logger)
		if err != nil {
			return err
		}
	}

	code, runErr := o.Run(ctx)

	if audit != nil {
		audit.finish(code, logger)
	}
	printActivitySummary(o.Stats())
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			os.Exit(130)
		}
		return runErr
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// printActivitySummary renders the per-domain traffic table captured during
// teardown. Silent when the proxy never logged a request.
func printActivitySummary(stats *accesslog.Stats) {
	if stats == nil || stats.TotalRequests == 0 {
		return
	}
	out, err := report.Render(stats, report.FormatPretty, report.Options{Color: report.ColorEnabled()})
	if err != nil {
		return
	}
	fmt.Print(out)
}

// auditCapture tails the proxy access log into the audit database for the
// duration of one run.
type auditCapture struct {
	store  *auditdb.Store
	writer *auditdb.Writer
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
}

func startAuditCapture(ctx context.Context, dbPath, runID, command, logPath string, logger logging.Logger) (*auditCapture, error) {
	store, err := auditdb.Open(dbPath, logger)
	if err != nil {
		return nil, err
	}
	if err := store.BeginRun(runID, time.Now(), command); err != nil {
		store.Close()
		return nil, err
	}

	writer := auditdb.NewWriter(auditdb.WriterConfig{Store: store, RunID: runID, Logger: logger})
	writer.Start()

	tailCtx, tailCancel := context.WithCancel(ctx)
	a := &auditCapture{
		store:  store,
		writer: writer,
		runID:  runID,
		cancel: tailCancel,
		done:   make(chan struct{}),
	}

	entries := make(chan *accesslog.Entry, 256)
	tailer := accesslog.NewTailer(logPath, logger)
	go func() {
		defer close(entries)
		if err := tailer.Tail(tailCtx, entries); err != nil {
			logger.Warn("access log tail stopped", map[string]any{"error": err.Error()})
		}
	}()
	go func() {
		defer close(a.done)
		for e := range entries {
			writer.Enqueue(e)
		}
	}()
	return a, nil
}

// finish stops the tail, flushes pending rows, and records the run outcome.
func (a *auditCapture) finish(exitCode int, logger logging.Logger) {
	a.cancel()
	<-a.done
	a.writer.Stop()
	if err := a.store.FinishRun(a.runID, time.Now(), exitCode, a.writer.Dropped()); err != nil {
		logger.Warn("recording run outcome failed", map[string]any{"error": err.Error()})
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("closing audit database failed", map[string]any{"error": err.Error()})
	}
}
