// Package server wires configuration, storage, and services together and
// runs the HTTP and gRPC front ends.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/telehealth/internal/blobstore"
	"github.com/dmitrijs2005/telehealth/internal/cryptox"
	"github.com/dmitrijs2005/telehealth/internal/filex"
	"github.com/dmitrijs2005/telehealth/internal/logging"
	"github.com/dmitrijs2005/telehealth/internal/server/config"
	"github.com/dmitrijs2005/telehealth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/telehealth/internal/server/rest"
	"github.com/dmitrijs2005/telehealth/internal/server/services"

	gs "github.com/dmitrijs2005/telehealth/internal/server/grpc"
)

// openDB is a seam for tests.
var openDB = repomanager.OpenDB

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	repos   repomanager.RepositoryManager
	closers []func(context.Context) error
}

// NewApp validates c, builds the logger, and connects to the database.
func NewApp(ctx context.Context, c *config.Config, logOut io.Writer) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(c.LogBackend, logOut)

	db, err := openDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app := &App{
		config: c,
		logger: logger,
		db:     db,
		repos:  repomanager.NewPostgresRepositoryManager(),
	}
	app.closers = append(app.closers, func(context.Context) error { return db.Close() })
	return app, nil
}

func (app *App) Logger() logging.Logger { return app.logger }

// Migrate applies pending schema migrations.
func (app *App) Migrate(ctx context.Context) error {
	if err := app.repos.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	app.logger.Info(ctx, "migrations applied")
	return nil
}

// Close releases every resource opened by the app, newest first.
func (app *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}

// openStore builds the configured blob store backend.
func (app *App) openStore(ctx context.Context) (blobstore.Store, error) {
	switch app.config.StorageBackend {
	case config.StorageFS:
		dir, err := filex.EnsureDir(app.config.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("upload dir: %w", err)
		}
		return blobstore.NewFSStore(dir, app.logger), nil

	case config.StorageS3:
		client, err := blobstore.NewS3Client(ctx, blobstore.S3Config{
			AccessKey:    app.config.S3RootUser,
			SecretKey:    app.config.S3RootPassword,
			Bucket:       app.config.S3Bucket,
			Region:       app.config.S3Region,
			BaseEndpoint: app.config.S3BaseEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		return blobstore.NewS3Store(client, app.config.S3Bucket, app.logger), nil

	case config.StorageGridFS:
		client, bucket, err := blobstore.OpenGridFSBucket(ctx, app.config.MongoURI, app.config.MongoDatabase, app.config.GridFSBucket)
		if err != nil {
			return nil, fmt.Errorf("gridfs: %w", err)
		}
		app.closers = append(app.closers, client.Disconnect)
		return blobstore.NewGridFSStore(bucket, app.logger), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", app.config.StorageBackend)
}

// recordService resolves the encryption key and builds RecordService.
func (app *App) recordService(ctx context.Context, store blobstore.Store) (*services.RecordService, error) {
	if err := config.ResolveEncryptionKey(ctx, app.config, config.Terminal{In: os.Stdin, Out: os.Stderr}); err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	cipher, err := cryptox.NewCipher(cryptox.CipherConfig{Secret: app.config.EncryptionKey})
	if err != nil {
		return nil, err
	}

	opts := services.RecordOptions{
		MaxUploadSize:        app.config.MaxUploadSize,
		PruneSupersededBlobs: app.config.PruneSupersededBlobs,
	}
	return services.NewRecordService(app.db, app.repos, cipher, store, opts, app.logger), nil
}

func (app *App) sweeper(store blobstore.Store) *services.Sweeper {
	return services.NewSweeper(app.db, app.repos, store, app.config.SweepGracePeriod, app.logger)
}

// Users returns the account provisioning service.
func (app *App) Users() *services.UserService {
	return services.NewUserService(app.db, app.repos, app.config)
}

// Sweep runs a single orphan sweep against the configured store.
func (app *App) Sweep(ctx context.Context) (int, error) {
	store, err := app.openStore(ctx)
	if err != nil {
		return 0, err
	}
	return app.sweeper(store).Sweep(ctx)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run migrates the schema and serves HTTP and gRPC until a signal arrives
// or either server fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.Migrate(ctx); err != nil {
		return err
	}

	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}

	records, err := app.recordService(ctx, store)
	if err != nil {
		return err
	}

	httpServer := rest.NewHTTPServer(rest.Config{
		Address:       app.config.HTTPAddr,
		JWTSecret:     []byte(app.config.SecretKey),
		MaxUploadSize: app.config.MaxUploadSize,
	}, records, app.logger)
	grpcServer := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, records, app.config.SecretKey)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				app.logger.Error(ctx, name+" stopped", "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancelFunc()
			}
		}()
	}

	run("http server", httpServer.Run)
	run("grpc server", grpcServer.Run)

	if app.config.SweepInterval > 0 {
		sw := app.sweeper(store)
		run("sweeper", func(ctx context.Context) error {
			sw.Run(ctx, app.config.SweepInterval)
			return nil
		})
	}

	wg.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return firstErr
}
