package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duetrack.org/internal/alert"
	"duetrack.org/internal/auth"
	"duetrack.org/internal/entity"
	"duetrack.org/internal/httpapi"
	"duetrack.org/internal/obs"
	"duetrack.org/internal/rules"
	"duetrack.org/internal/scan"
	"duetrack.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	engine, err := rules.NewEngineFromFile(os.Getenv("DUETRACK_RULES_PATH"))
	if err != nil {
		log.Fatalf("load rule sets: %v", err)
	}

	// With a DSN all stores back onto Postgres; without one the service runs
	// fully in memory, which is enough for local development and demos.
	var (
		db         *sql.DB
		entityRepo entity.Repository
		alertStore alert.Store
		users      auth.UserStore
	)
	if dsn := os.Getenv("DUETRACK_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		entityRepo = store
		alertStore = store.Alerts()
		users = store
	} else {
		log.Printf("DUETRACK_PG_DSN not set, using in-memory stores")
		entityRepo = entity.NewInMemory()
		alertStore = alert.NewInMemory()
		mem := auth.NewInMemoryUsers()
		if err := bootstrapAdmin(mem); err != nil {
			log.Fatalf("bootstrap admin: %v", err)
		}
		users = mem
	}

	alerts, err := alert.NewManager(alertStore)
	if err != nil {
		log.Fatalf("alert manager: %v", err)
	}
	runner, err := scan.NewRunner(entityRepo, engine, alerts)
	if err != nil {
		log.Fatalf("scan runner: %v", err)
	}

	scanCtx, stopScan := context.WithCancel(context.Background())
	defer stopScan()
	go runner.Start(scanCtx, scanInterval())

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, users, alerts, runner)

	addr := os.Getenv("DUETRACK_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting duetrack-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopScan()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func scanInterval() time.Duration {
	raw := os.Getenv("DUETRACK_SCAN_INTERVAL")
	if raw == "" {
		return time.Hour
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("invalid DUETRACK_SCAN_INTERVAL %q, using 1h", raw)
		return time.Hour
	}
	return d
}

// bootstrapAdmin seeds one admin account so a fresh in-memory instance is
// usable without a migration step.
func bootstrapAdmin(users *auth.InMemoryUsers) error {
	email := os.Getenv("DUETRACK_ADMIN_EMAIL")
	password := os.Getenv("DUETRACK_ADMIN_PASSWORD")
	if email == "" || password == "" {
		log.Printf("DUETRACK_ADMIN_EMAIL/DUETRACK_ADMIN_PASSWORD not set, no users bootstrapped")
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	users.Put(auth.User{
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		FirmAccess:   auth.AllFirms(),
	})
	log.Printf("bootstrapped admin user %s", email)
	return nil
}
