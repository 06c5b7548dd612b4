// Printers service - print and scan orchestration for a shared office fleet
// Exposes the printers over an HTTP API and a websocket chat front-end
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/one-zero-eight/printers/artifact"
	"github.com/one-zero-eight/printers/authgate"
	"github.com/one-zero-eight/printers/bot"
	"github.com/one-zero-eight/printers/config"
	"github.com/one-zero-eight/printers/convert"
	"github.com/one-zero-eight/printers/discovery"
	"github.com/one-zero-eight/printers/esclclient"
	"github.com/one-zero-eight/printers/ippclient"
	"github.com/one-zero-eight/printers/logger"
	"github.com/one-zero-eight/printers/printing"
	"github.com/one-zero-eight/printers/scanning"
	"github.com/one-zero-eight/printers/status"
	"github.com/one-zero-eight/printers/storage"
	"github.com/one-zero-eight/printers/workpool"
)

// Version information (set at build time via -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	appLogger *logger.Logger
	appConfig *config.Config
	appStore  storage.Store
	artifacts *artifact.Store
	gate      *authgate.Gate
	printOrch *printing.Orchestrator
	scanOrch  *scanning.Orchestrator
	statusAgg *status.Aggregator
	botEngine *bot.Engine
)

func main() {
	settingsPath := flag.String("settings", "", "Path to settings.yaml (default: search next to binary and cwd)")
	logLevel := flag.String("log-level", "info", "Log level (error, warn, info, debug)")
	discover := flag.Bool("discover", false, "Periodically log IPP/eSCL devices found via mDNS")
	flag.Parse()

	log.Printf("Printers service %s", Version)
	log.Printf("Build: %s, Commit: %s", BuildTime, GitCommit)
	log.Printf("Go: %s, OS: %s, Arch: %s", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	path := *settingsPath
	if path == "" {
		var err error
		path, err = config.FindSettingsFile("settings.yaml")
		if err != nil {
			log.Fatal(err)
		}
	}
	var err error
	appConfig, err = config.Load(path)
	if err != nil {
		log.Fatal(err)
	}

	appLogger = logger.New(logger.ParseLevel(*logLevel), filepath.Join(appConfig.API.TempDir, "logs"), 1000)
	defer appLogger.Close()
	appLogger.Info("Service starting", "version", Version, "settings", path)

	appStore, err = storage.NewStore(&appConfig.API.Database)
	if err != nil {
		appLogger.Error("Database init failed", "error", err)
		log.Fatal(err)
	}
	defer appStore.Close()

	artifacts, err = artifact.NewStore(appConfig.API.TempDir)
	if err != nil {
		appLogger.Error("Artifact store init failed", "error", err)
		log.Fatal(err)
	}
	defer artifacts.OnTerminate()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts := authgate.NewAccountsClient(appConfig.API.Accounts.APIURL, appConfig.API.Accounts.APIJWTToken)
	gate = authgate.New(ctx, accounts, appConfig.Bot.BotToken, appLogger)

	pool := workpool.New(0)
	ippBackend := ippclient.NewClient(appConfig.API.CupsServer, appLogger)
	converter := convert.NewHTTPConverter(appConfig.API.ConverterURL)

	printOrch = printing.New(appConfig.API.Printers, artifacts, ippBackend, converter, pool, appLogger)
	scanOrch = scanning.New(appConfig.API.Scanners, func(sc config.Scanner) esclclient.Backend {
		return esclclient.NewClient(sc.ESCL, appLogger)
	}, artifacts, pool, appLogger)

	statusAgg = status.NewAggregator(appConfig.API.Printers, ippBackend, appLogger)
	tonerPoller := status.NewTonerPoller(appConfig.API.Printers, statusAgg, appLogger)
	go tonerPoller.Run(ctx)

	if *discover {
		go discovery.NewBrowser(appLogger, time.Hour).Run(ctx)
	}

	fsm := bot.NewFSM(appStore)
	chat := newChatHub(appLogger)
	botEngine = bot.NewEngine(fsm, chat, printOrch, scanOrch,
		appConfig.API.Printers, appConfig.API.Scanners, appStore, appLogger)
	chat.bind(botEngine, gate)

	setupRoutes(chat)

	srv := &http.Server{
		Addr:              appConfig.API.Listen,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		appLogger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	appLogger.Info("Listening", "addr", appConfig.API.Listen, "root", appConfig.API.AppRootPath)
	log.Printf("Listening on %s", appConfig.API.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"commit":     GitCommit,
	})
}

func route(path string) string {
	return fmt.Sprintf("%s%s", appConfig.API.AppRootPath, path)
}

func setupRoutes(chat *chatHub) {
	http.HandleFunc("/health", handleHealth)
	http.HandleFunc(route("/api/version"), handleVersion)

	// Print API
	http.HandleFunc(route("/print/get_printers"), withAuth(handleGetPrinters))
	http.HandleFunc(route("/print/get_printers_status"), withAuth(handleGetPrintersStatus))
	http.HandleFunc(route("/print/get_printer_status"), withAuth(handleGetPrinterStatus))
	http.HandleFunc(route("/print/prepare"), withAuth(handlePrepare))
	http.HandleFunc(route("/print/print"), withAuth(handlePrint))
	http.HandleFunc(route("/print/job_status"), withAuth(handleJobStatus))
	http.HandleFunc(route("/print/cancel"), withAuth(handleCancelJob))
	http.HandleFunc(route("/print/cancel_preparation"), withAuth(handleCancelPreparation))
	http.HandleFunc(route("/print/get_file"), withAuth(handleGetFile))

	// Scan API
	http.HandleFunc(route("/scan/get_scanners"), withAuth(handleGetScanners))
	http.HandleFunc(route("/scan/manual/start_scan"), withAuth(handleStartScan))
	http.HandleFunc(route("/scan/manual/cancel_scan"), withAuth(handleCancelScan))
	http.HandleFunc(route("/scan/manual/wait_and_merge"), withAuth(handleWaitAndMerge))
	http.HandleFunc(route("/scan/manual/remove_last_page"), withAuth(handleRemoveLastPage))
	http.HandleFunc(route("/scan/manual/delete_file"), withAuth(handleDeleteScanFile))
	http.HandleFunc(route("/scan/get_file"), withAuth(handleGetScanFile))
	http.HandleFunc(route("/scan/capabilities"), withAuth(handleScannerCapabilities))
	http.HandleFunc(route("/scan/device_status"), withAuth(handleScannerDeviceStatus))

	// Users
	http.HandleFunc(route("/users/my_id"), withAuth(handleMyID))
	http.HandleFunc(route("/users/job_history"), withAuth(handleJobHistory))

	// Chat front-end
	http.HandleFunc(route("/bot/ws"), chat.handleWS)
}
