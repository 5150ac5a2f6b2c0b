package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/admissions/internal/config"
	"github.com/ehr/admissions/internal/domain/admission"
	"github.com/ehr/admissions/internal/domain/identity"
	"github.com/ehr/admissions/internal/domain/ward"
	"github.com/ehr/admissions/internal/platform/auth"
	"github.com/ehr/admissions/internal/platform/cache"
	"github.com/ehr/admissions/internal/platform/db"
	"github.com/ehr/admissions/internal/platform/events"
	"github.com/ehr/admissions/internal/platform/middleware"
	"github.com/ehr/admissions/internal/platform/websocket"
	"github.com/ehr/admissions/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "admission-server",
		Short: "Hospital admission scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(facilityCmd())
	rootCmd.AddCommand(staffCmd())
	rootCmd.AddCommand(patientCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the admission API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// connect loads config and opens the pool. The caller closes the pool.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			facility, _ := cmd.Flags().GetString("facility")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(facilityOrDefault(facility, cfg))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("facility", "", "Target facility (defaults to DEFAULT_FACILITY)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			facility, _ := cmd.Flags().GetString("facility")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(facilityOrDefault(facility, cfg))
			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(os.Stdout, schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("facility", "", "Target facility (defaults to DEFAULT_FACILITY)")
	cmd.AddCommand(statusCmd)

	// migrate version
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			facility, _ := cmd.Flags().GetString("facility")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(facilityOrDefault(facility, cfg))
			v, err := db.NewMigrator(pool, migrations.FS).Version(ctx, schema)
			if err != nil {
				return err
			}
			fmt.Printf("%s: version %d\n", schema, v)
			return nil
		},
	}
	versionCmd.Flags().String("facility", "", "Target facility (defaults to DEFAULT_FACILITY)")
	cmd.AddCommand(versionCmd)

	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func facilityOrDefault(facility string, cfg *config.Config) string {
	if facility != "" {
		return facility
	}
	return cfg.DefaultFacility
}

func facilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facility",
		Short: "Manage facilities",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a facility schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating facility schema: %s\n", db.SchemaName(name))
			if err := db.CreateFacilitySchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Println("Facility created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Facility identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// withDirectory runs fn against the identity directory of one facility.
func withDirectory(facility string, fn func(ctx context.Context, dir *identity.Directory) error) error {
	ctx := context.Background()
	cfg, pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, release, err := db.AcquireFacility(ctx, pool, facilityOrDefault(facility, cfg))
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx, identity.NewDirectory(identity.NewRepo(pool)))
}

func staffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage staff profiles",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a staff member and link it to an auth user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := staffFromFlags(cmd)
			if err != nil {
				return err
			}
			facility, _ := cmd.Flags().GetString("facility")
			return withDirectory(facility, func(ctx context.Context, dir *identity.Directory) error {
				if err := dir.CreateStaff(ctx, s); err != nil {
					return err
				}
				fmt.Printf("Created %s %s %s (id %s)\n", s.StaffType, s.FirstName, s.LastName, s.ID)
				return nil
			})
		},
	}
	createCmd.Flags().String("user-id", "", "Auth subject the profile belongs to")
	createCmd.Flags().String("type", "", "Nurse, Doctor, Pharmacist or Admin")
	createCmd.Flags().String("first-name", "", "First name")
	createCmd.Flags().String("last-name", "", "Last name")
	createCmd.Flags().String("department", "", "Department id (optional)")
	createCmd.Flags().String("facility", "", "Target facility (defaults to DEFAULT_FACILITY)")

	cmd.AddCommand(createCmd)
	return cmd
}

func staffFromFlags(cmd *cobra.Command) (*identity.Staff, error) {
	userID, _ := cmd.Flags().GetString("user-id")
	typ, _ := cmd.Flags().GetString("type")
	first, _ := cmd.Flags().GetString("first-name")
	last, _ := cmd.Flags().GetString("last-name")
	dept, _ := cmd.Flags().GetString("department")

	s := &identity.Staff{
		UserID:    userID,
		StaffType: identity.StaffType(typ),
		FirstName: first,
		LastName:  last,
	}
	if dept != "" {
		id, err := uuid.Parse(dept)
		if err != nil {
			return nil, fmt.Errorf("invalid --department: %w", err)
		}
		s.DepartmentID = &id
	}
	return s, nil
}

func patientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Manage patients",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			first, _ := cmd.Flags().GetString("first-name")
			last, _ := cmd.Flags().GetString("last-name")
			blood, _ := cmd.Flags().GetString("blood-type")
			facility, _ := cmd.Flags().GetString("facility")

			p := &identity.Patient{FirstName: first, LastName: last}
			if blood != "" {
				p.BloodType = &blood
			}
			return withDirectory(facility, func(ctx context.Context, dir *identity.Directory) error {
				if err := dir.CreatePatient(ctx, p); err != nil {
					return err
				}
				fmt.Printf("Created patient %s %s (id %s)\n", p.FirstName, p.LastName, p.ID)
				return nil
			})
		},
	}
	createCmd.Flags().String("first-name", "", "First name")
	createCmd.Flags().String("last-name", "", "Last name")
	createCmd.Flags().String("blood-type", "", "Blood type (optional)")
	createCmd.Flags().String("facility", "", "Target facility (defaults to DEFAULT_FACILITY)")

	cmd.AddCommand(createCmd)
	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// authMiddleware picks JWT validation or the development impersonation
// middleware from the resolved auth mode.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware(cfg.DevUserID)
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	return rl
}

func requestUserID(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

// connectCache returns Redis when REDIS_URL is set, otherwise a no-op cache.
func connectCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Cache, func()) {
	if cfg.RedisURL == "" {
		return cache.Noop{}, func() {}
	}
	rc, err := cache.NewRedis(ctx, cfg.RedisURL, "admissions")
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, occupancy cache disabled")
		return cache.Noop{}, func() {}
	}
	logger.Info().Msg("connected to redis")
	return rc, func() { rc.Close() }
}

// connectPublisher returns an AMQP publisher when AMQP_URL is set.
func connectPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if cfg.AMQPURL == "" {
		return events.Noop{}
	}
	pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, "admission", logger)
	if err != nil {
		logger.Warn().Err(err).Msg("amqp unavailable, admission events will not be published")
		return events.Noop{}
	}
	logger.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to amqp")
	return pub
}

// newServer builds the echo instance with global middleware and health
// routes. Domain routes are attached to the returned /api/v1 group.
func newServer(cfg *config.Config, logger zerolog.Logger) (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Facility-ID"},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	apiV1 := e.Group("/api/v1")
	apiV1.Use(authMiddleware(cfg))
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg), requestUserID))
	return e, apiV1
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	migrator := db.NewMigrator(pool, migrations.FS)
	if err := db.CreateFacilitySchema(ctx, pool, cfg.DefaultFacility, migrator); err != nil {
		logger.Fatal().Err(err).Str("facility", cfg.DefaultFacility).Msg("failed to prepare default facility")
	}

	occCache, closeCache := connectCache(ctx, cfg, logger)
	defer closeCache()
	hub := websocket.NewHub(logger)
	publisher := events.Fanout{connectPublisher(cfg, logger), hub}
	defer publisher.Close()

	e, apiV1 := newServer(cfg, logger)
	e.GET("/health/db", db.HealthHandler(pool, migrator, cfg.DefaultFacility))
	apiV1.Use(db.FacilityMiddleware(pool, cfg.DefaultFacility))

	// Ward
	wardRepo := ward.NewRepo(pool)
	ward.NewHandler(ward.NewService(wardRepo)).RegisterRoutes(apiV1)

	// Identity
	directory := identity.NewDirectory(identity.NewRepo(pool))
	identity.NewHandler(directory).RegisterRoutes(apiV1)

	// Admission
	mgr := admission.NewManager(
		admission.NewRepo(pool),
		wardRepo,
		directory,
		db.NewTransactor(pool, cfg.LockRetryAttempts),
		logger,
	)
	mgr.SetCache(occCache, cfg.OccupancyCacheTTL)
	mgr.SetPublisher(publisher)
	admission.NewHandler(mgr, directory).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
