package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healthcenter/hms/internal/config"
	"github.com/healthcenter/hms/internal/domain/identity"
	"github.com/healthcenter/hms/internal/domain/patient"
	"github.com/healthcenter/hms/internal/domain/scheduling"
	"github.com/healthcenter/hms/internal/platform/auth"
	"github.com/healthcenter/hms/internal/platform/metrics"
	"github.com/healthcenter/hms/internal/platform/middleware"
	"github.com/healthcenter/hms/internal/platform/sandbox"
	"github.com/healthcenter/hms/internal/platform/storage"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "hms-server",
		Short:        "Health center record store",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(bootstrapAdminCmd())
	rootCmd.AddCommand(resetPasswordCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create empty users, patients and appointments collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, a *app) error {
				if err := storage.EnsureAll(ctx, a.gw); err != nil {
					return err
				}
				a.logger.Info().Bool("admin_exists", a.users.AdminExists()).Msg("collections ready")
				return nil
			})
		},
	}
}

func bootstrapAdminCmd() *cobra.Command {
	var reg identity.Registration
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the first administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg.Confirm = reg.Password
			return withStores(cmd.Context(), func(ctx context.Context, a *app) error {
				u, err := a.users.BootstrapAdmin(ctx, reg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", u.Username, u.UserID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&reg.Name, "name", "", "full name")
	f.StringVar(&reg.Username, "username", "", "login name")
	f.StringVar(&reg.Password, "password", "", "password")
	f.StringVar(&reg.Age, "age", "", "age")
	f.StringVar(&reg.Gender, "gender", "", "gender")
	f.StringVar(&reg.Email, "email", "", "email address")
	f.StringVar(&reg.ContactNo, "contact-no", "", "contact number")
	f.StringVar(&reg.SecurityQuestion, "security-question", "", "recovery question")
	f.StringVar(&reg.SecurityAnswer, "security-answer", "", "recovery answer")
	return cmd
}

func resetPasswordCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Overwrite a user's password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, a *app) error {
				if err := a.users.SetPassword(ctx, username, password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", username)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func seedCmd() *cobra.Command {
	var adminUser, adminPassword string
	cfg := sandbox.DefaultSeedConfig()
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the record stores with demo staff, patients and appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, a *app) error {
				u, err := a.users.Authenticate(ctx, adminUser, adminPassword)
				if err != nil {
					return err
				}
				stores := sandbox.Stores{Users: a.users, Patients: a.patients, Appointments: a.appts}
				result, err := sandbox.NewSeeder(cfg, stores, a.logger).Generate(ctx, u.Session())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d doctors, %d nurses, %d patients, %d appointments\n",
					result.Doctors, result.Nurses, result.Patients, result.Appointments)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&adminUser, "admin-username", "admin", "administrator login")
	f.StringVar(&adminPassword, "admin-password", "", "administrator password")
	f.IntVar(&cfg.DoctorCount, "doctors", cfg.DoctorCount, "doctor accounts to create")
	f.IntVar(&cfg.NurseCount, "nurses", cfg.NurseCount, "nurse accounts to create")
	f.IntVar(&cfg.PatientCount, "patients", cfg.PatientCount, "patients to create")
	f.IntVar(&cfg.AppointmentsPerPatient, "appointments", cfg.AppointmentsPerPatient, "appointments to book per patient")
	f.StringVar(&cfg.StaffPassword, "staff-password", cfg.StaffPassword, "password for seeded staff accounts")
	f.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed; 0 picks one from the clock")
	_ = cmd.MarkFlagRequired("admin-password")
	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// app holds the wired record stores.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	gw       storage.Gateway
	pool     *pgxpool.Pool
	metrics  *metrics.Collector
	users    *identity.Service
	patients *patient.Service
	appts    *scheduling.Service
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func openGateway(ctx context.Context, cfg *config.Config) (storage.Gateway, *pgxpool.Pool, error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pool, err := storage.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewPostgresGateway(pool), pool, nil
	case config.DriverMemory:
		return storage.NewMemoryGateway(), nil, nil
	default:
		return storage.NewFileGateway(cfg.DataDir), nil, nil
	}
}

// newApp opens storage and wires the three stores together. The identity
// store creates patient records through the patient store, and every store
// reports writes to the metrics collector.
func newApp(ctx context.Context, cfg *config.Config, gw storage.Gateway, logger zerolog.Logger) (*app, error) {
	hasher, err := identity.NewHasher(cfg.PasswordScheme)
	if err != nil {
		return nil, err
	}
	m := metrics.New()

	users, err := identity.NewService(ctx, gw, hasher, logger)
	if err != nil {
		return nil, fmt.Errorf("open users: %w", err)
	}
	patients, err := patient.NewService(ctx, gw, users, cfg.DefaultPatientPassword, logger)
	if err != nil {
		return nil, fmt.Errorf("open patients: %w", err)
	}
	appts, err := scheduling.NewService(ctx, gw, patients, logger)
	if err != nil {
		return nil, fmt.Errorf("open appointments: %w", err)
	}

	users.SetPatientLinker(patients)
	users.SetRecorder(m)
	users.Observe(m)
	patients.Observe(m)
	appts.SetRecorder(m)
	appts.Observe(m)

	return &app{
		cfg:      cfg,
		logger:   logger,
		gw:       gw,
		metrics:  m,
		users:    users,
		patients: patients,
		appts:    appts,
	}, nil
}

// withStores loads configuration, opens the configured storage and runs fn
// against the wired stores.
func withStores(ctx context.Context, fn func(context.Context, *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	gw, pool, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, gw, logger)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return err
	}
	a.pool = pool
	defer a.Close()
	return fn(ctx, a)
}

// newServer builds the echo instance. Requests reaching the stores pass
// through a single Serialize instance.
func newServer(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))
	if a.pool != nil {
		e.GET("/health/db", storage.HealthHandler(a.pool))
	}

	issuer := auth.NewTokenIssuer([]byte(a.cfg.SessionSecret), a.cfg.SessionTTL)
	revoked := auth.NewRevocationList()
	throttle := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.LoginRateLimitRPS,
		BurstSize:         a.cfg.LoginRateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	})

	api := e.Group("", middleware.Serialize(), auth.RequireSession(issuer, revoked, a.users, auth.AuthSkipper))
	identity.NewHandler(a.users, issuer, revoked, throttle).RegisterRoutes(api)
	patient.NewHandler(a.patients).RegisterRoutes(api)
	scheduling.NewHandler(a.appts).RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	gw, pool, err := openGateway(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to open storage")
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	a, err := newApp(ctx, cfg, gw, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load record stores")
	}
	a.pool = pool
	if !a.users.AdminExists() {
		logger.Warn().Msg("no admin account; create one with POST /auth/bootstrap or the bootstrap-admin command")
	}

	e := newServer(a)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("storage", cfg.StorageDriver).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
