package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradepost/internal/api"
	"tradepost/internal/auth"
	"tradepost/internal/chat"
	"tradepost/internal/commands"
	"tradepost/internal/config"
	"tradepost/internal/filestore"
	"tradepost/internal/http"
	"tradepost/internal/models"
	"tradepost/internal/push"
	"tradepost/internal/storage"

	"golang.org/x/sync/errgroup"
)

type options struct {
	addUser  string
	role     string
	company  string
	password string
	seedDemo bool
}

func (o options) cliMode() bool {
	return o.addUser != "" || o.seedDemo
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.cliMode())
	if err != nil {
		return err
	}

	if opts.addUser != "" {
		return commands.AddUser(api.AddUserRequest{
			Username: opts.addUser,
			Company:  opts.company,
			Role:     models.Role(opts.role),
			Password: opts.password,
		}, cfg)
	}
	if opts.seedDemo {
		return commands.Seed(opts.password, cfg)
	}

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, authConfig, bbStorage)
	if err != nil {
		return err
	}

	files, err := filestore.NewDiskStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	pushService := push.New(bbStorage, push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivate,
		Subscriber:      cfg.PushSubscriber,
	})

	hub := chat.NewHub()
	router := chat.NewRouter(hub, bbStorage, pushService)

	adminServer := http.NewAdminServer(authService, bbStorage, cfg.AdminAddr)
	apiServer := http.NewAPIServer(authService, hub, router, files, bbStorage, pushService, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	var opts options
	flag.StringVar(&opts.addUser, "add-user", "", "Username to create via the admin API of a running server")
	flag.StringVar(&opts.role, "role", "buyer", "Role for -add-user: buyer, seller or admin")
	flag.StringVar(&opts.company, "company", "", "Company name for -add-user")
	flag.StringVar(&opts.password, "password", "", "Password for -add-user / -seed accounts")
	flag.BoolVar(&opts.seedDemo, "seed", false, "Populate demo data via the admin API of a running server")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
