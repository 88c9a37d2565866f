package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/DennisKoslow/ProxyDesk/app/controllers"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/cache"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/checkout"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/database"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/env"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/gateway"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/invoicedoc"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/jobqueue"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/mail"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/metrics/counter"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/provision"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/router"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/wallet"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()

	// Service layer wiring, bottom up: ledger, gateways, provisioning,
	// invoices, background queue, then the checkout orchestrator on top.
	ledger := wallet.NewLedger(db)
	registry := gateway.NewRegistryFromEnv(db, ledger)

	engine := provision.NewEngine(provision.NewRepository(db), provision.DefaultClientFactory)

	var archiver invoicedoc.Archiver
	if s3 := invoicedoc.NewS3ArchiverFromEnv(); s3 != nil {
		archiver = s3
	}
	renderer := invoicedoc.NewRenderer(db, archiver)

	workers, _ := strconv.Atoi(env.GetEnv("JOB_WORKERS", "2"))
	queue := jobqueue.NewQueue(workers)
	jobqueue.NewProvisionRetryProcessor(db, engine).Register(queue)
	queue.Start()

	svc := checkout.NewService(checkout.ServiceConfig{
		DB:          db,
		Repo:        checkout.NewRepository(db),
		Registry:    registry,
		Ledger:      ledger,
		Provisioner: engine,
		Renderer:    renderer,
		Carts:       checkout.NewCartStore(),
		Notifier:    mail.OrderNotifier{},
		Retry:       queue,
		PublicURL:   env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"),
	})

	flusherStop := make(chan struct{})
	counter.StartFlusher(time.Minute, flusherStop)

	controllers.InitControllers(svc, renderer, ledger, registry, queue)

	app := fiber.New(fiber.Config{
		AppName:   "proxydesk",
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	app.Hooks().OnShutdown(func() error {
		close(flusherStop)
		queue.Stop()
		return nil
	})

	return app
}
