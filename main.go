package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/username/wealthos/backend/src/config"
	"github.com/username/wealthos/backend/src/database"
	"github.com/username/wealthos/backend/src/logger"
	"github.com/username/wealthos/backend/src/plugins"
	_ "github.com/username/wealthos/backend/src/plugins/samplebank"
	"github.com/username/wealthos/backend/src/security"
	"github.com/username/wealthos/backend/src/services"
)

// main delegates to run so deferred cleanup (disconnects, database close)
// executes before the process exits with a status code.
func main() {
	os.Exit(run())
}

func run() int {
	var (
		sourcesFlag = flag.String("sources", "", "comma-separated source ids to sync (default: all enabled)")
		sinceFlag   = flag.String("since", "", "fetch transactions since this date (YYYY-MM-DD)")
		healthFlag  = flag.Bool("health", false, "run health checks instead of a sync and exit")
		listFlag    = flag.Bool("list-plugins", false, "list discovered plugins and exit")
	)
	flag.Parse()

	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Starting portfolio sync runner")

	database.InitDB(config.Cfg.DatabasePath)
	defer func() {
		if err := database.DB.Close(); err != nil {
			logger.L.Error("Error closing database", "error", err)
		}
	}()

	sourcesCfg, err := config.LoadSourcesConfig(config.Cfg.SourcesConfigPath)
	if err != nil {
		logger.L.Error("Could not load sources config", "error", err)
		return 1
	}

	cipher, err := security.NewCredentialCipher(config.Cfg.CredentialMasterKey)
	if err != nil {
		logger.L.Error("Could not initialize credential cipher", "error", err)
		return 1
	}

	pluginManager := plugins.NewManager(config.Cfg.PluginsDir, nil)
	if _, err := pluginManager.Discover(); err != nil {
		logger.L.Error("Plugin discovery failed", "error", err)
	}

	if *listFlag {
		listPlugins(pluginManager)
		return 0
	}

	store := services.NewStore(database.DB)
	alerts := services.NewAlertService()
	orchestrator := services.NewImportOrchestrator(sourcesCfg, store, pluginManager, alerts, cipher)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer orchestrator.DisconnectAll(context.Background())

	if *healthFlag {
		return runHealthChecks(ctx, orchestrator)
	}

	var since time.Time
	if *sinceFlag != "" {
		since, err = time.Parse("2006-01-02", *sinceFlag)
		if err != nil {
			stdlog.Printf("invalid -since value %q, expected YYYY-MM-DD", *sinceFlag)
			return 1
		}
	}

	var sourceFilter []string
	if *sourcesFlag != "" {
		for _, id := range strings.Split(*sourcesFlag, ",") {
			if id = strings.TrimSpace(id); id != "" {
				sourceFilter = append(sourceFilter, id)
			}
		}
	}

	results, err := orchestrator.RunFullSync(ctx, sourceFilter, since)
	if err != nil {
		logger.L.Error("Sync run failed", "error", err)
		return 1
	}

	fmt.Println(results.Summary())

	if !results.Success() {
		return 1
	}
	return 0
}

func runHealthChecks(ctx context.Context, orchestrator *services.ImportOrchestrator) int {
	for sourceID, err := range orchestrator.InitializeConnectors(ctx) {
		if err != nil {
			logger.L.Error("Source initialization failed", "source", sourceID, "error", err)
		}
	}

	checks := orchestrator.HealthCheckAll(ctx)
	ids := make([]string, 0, len(checks))
	for id := range checks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	exitCode := 0
	for _, id := range ids {
		fmt.Printf("%-20s %s\n", id, checks[id])
		if strings.HasPrefix(checks[id], "unhealthy") {
			exitCode = 1
		}
	}
	return exitCode
}

func listPlugins(manager *plugins.Manager) {
	manifests := manager.ListManifests()
	if len(manifests) == 0 {
		fmt.Println("No plugins discovered.")
		return
	}
	for _, m := range manifests {
		valid, issues := manager.Validate(m.ID)
		status := "ok"
		if !valid {
			status = "invalid: " + strings.Join(issues, "; ")
		}
		fmt.Printf("%-20s v%-8s %-30s [%s]\n", m.ID, m.Version, m.Name, status)
	}
}
