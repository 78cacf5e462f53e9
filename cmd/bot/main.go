// Package main is the entry point for ClashBot Go.
// It wires storage, the Discord session and the polling core, then runs
// them under the supervisor tree until a signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PancyStudios/ClashBotGo/internal/events"
	"github.com/PancyStudios/ClashBotGo/pkg/coc"
	"github.com/PancyStudios/ClashBotGo/pkg/config"
	"github.com/PancyStudios/ClashBotGo/pkg/database"
	"github.com/PancyStudios/ClashBotGo/pkg/discord"
	"github.com/PancyStudios/ClashBotGo/pkg/errors"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/mqtt"
	"github.com/PancyStudios/ClashBotGo/pkg/supervisor"
	"github.com/PancyStudios/ClashBotGo/pkg/tasks"
	"github.com/PancyStudios/ClashBotGo/pkg/throttle"
	"github.com/PancyStudios/ClashBotGo/pkg/web"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(cfg.ErrorWebhook, cfg.LogsWebhook)
	log.SetDebug(cfg.Debug)
	defer log.Close()

	logger.System("Iniciando ClashBot Go...", "Main")
	logger.Info(fmt.Sprintf("Directorio de trabajo: %s", getCurrentDir()), "Main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errHandler := errors.Init(cfg.ErrorWebhook, stop)

	// The database reconnects on its own, so a failed first connect is not fatal
	db, err := database.Init(cfg.MongoDBURL, cfg.DBName)
	if err != nil {
		logger.Error(fmt.Sprintf("Error connecting to database: %v", err), "Main")
	}
	defer func() {
		if err := db.Disconnect(); err != nil {
			logger.Warn(fmt.Sprintf("Error cerrando la base de datos: %v", err), "Main")
		}
	}()
	database.InitGlobalDataManagers(db)

	links := database.NewClanLinkCache(database.GlobalClanDM)
	if err := links.Refresh(ctx); err != nil {
		logger.Warn(fmt.Sprintf("Error inicializando caché de clanes: %v", err), "Main")
	}
	links.StartAutoRefresh(5 * time.Minute)
	defer links.StopAutoRefresh()

	discordClient, err := discord.Init(cfg.BotToken, cfg.OwnerID)
	if err != nil {
		logger.Critical(fmt.Sprintf("Error creating Discord client: %v", err), "Main")
		os.Exit(1)
	}

	mqttClientID := "clashbot"
	if !cfg.IsProd() {
		mqttClientID = "clashbot_canary"
	}
	mqttClient := mqtt.Init(mqtt.Options{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		Username: cfg.MQTTUser,
		Password: cfg.MQTTPassword,
		ClientID: mqttClientID,
	})
	defer mqttClient.Destroy()

	cocClient := coc.NewClient(coc.Options{
		BaseURL:   cfg.ClashAPIURL,
		Token:     cfg.ClashAPIToken,
		Throttler: throttle.New(throttle.Config{Rate: cfg.RateLimit, Burst: cfg.RateBurst}),
	})

	tags := database.NewTagStore()
	opts := tasks.OptionsFromConfig(cfg.Loops)
	opts.Purger = tags
	manager := tasks.NewManager(opts)
	defer manager.Close()

	reporter := errors.NewReporter(cfg.Loops.AlertCooldown, time.Now, discordClient.NotifyOwner, errHandler.WebhookNotifier())
	controller := tasks.NewController(manager, tags, cocClient, reporter, tasks.ControllerConfig{
		ReconcileInterval:        cfg.Loops.ReconcileInterval,
		RestartDelay:             cfg.Loops.RestartDelay,
		MaintenanceProbeInterval: cfg.Loops.MaintenanceProbeInterval,
		MaintenanceProbeTag:      cfg.Loops.MaintenanceProbeTag,
	},
		tasks.NewClanLoop(manager, cocClient),
		tasks.NewPlayerLoop(manager, cocClient),
		tasks.NewWarLoop(manager, cocClient),
		tasks.NewRaidLoop(manager, cocClient),
		tasks.NewGuildLoop(manager, discordClient),
	)

	webServer := web.Init(web.Options{Port: cfg.Port, WebhookURL: cfg.LogsWebServerHook})
	web.SetupAPIRoutes(webServer, web.RouteDeps{
		Controller: controller,
		DBStatus:   db.GetStatus,
		BotReady:   discordClient.IsReady,
		StartTime:  startTime,
	})

	registered := events.RegisterAll(manager.Registry, events.Deps{
		Sender:   discordClient,
		Links:    links,
		Enqueuer: controller,
		Pool:     manager.Pool,
		Bridge:   mqtt.NewBridge(mqttClient).Handle,
		Live:     webServer.Hub().Handle,
	})
	logger.Info(fmt.Sprintf("%d handlers registrados", registered), "Main")
	defer events.UnregisterAll(manager.Registry)

	events.RegisterGateway(discordClient, events.GatewayHooks{
		Reconcile: controller.Reconcile,
		Enqueuer:  controller,
	})
	mqttClient.RegisterControl(controller)

	if err := discordClient.Start(); err != nil {
		logger.Critical(fmt.Sprintf("Error starting Discord client: %v", err), "Main")
		os.Exit(1)
	}
	defer func() {
		if err := discordClient.Stop(); err != nil {
			logger.Warn(fmt.Sprintf("Error cerrando la sesión de Discord: %v", err), "Main")
		}
	}()

	tree := supervisor.NewTree("clashbot", supervisor.DefaultTreeConfig())
	tree.AddPollingService(controller)
	tree.AddAPIService(webServer)
	tree.AddAPIService(webServer.Hub())
	done := tree.ServeBackground(ctx)

	logger.Success("ClashBot Go iniciado correctamente!", "Main")

	<-ctx.Done()
	logger.System("Apagando ClashBot Go...", "Main")

	if err := <-done; err != nil && err != context.Canceled {
		logger.Warn(fmt.Sprintf("Supervisor terminó con error: %v", err), "Main")
	}
	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		logger.Warn(fmt.Sprintf("%d servicios no se detuvieron a tiempo", len(unstopped)), "Main")
	}
}

// getCurrentDir returns the current working directory
func getCurrentDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "unknown"
	}
	return dir
}
