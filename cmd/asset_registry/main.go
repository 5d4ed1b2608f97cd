package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"metro_platform/registry/auth"
	"metro_platform/registry/extractor"
	"metro_platform/registry/metrics"
	"metro_platform/registry/schema"
	"metro_platform/registry/services"
	"metro_platform/registry/storage"
	"metro_platform/utils/logging"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type registryEnv struct {
	PublicUrl string `env:"PUBLIC_URL,required"`
	ShareDir  string `env:"SHARE_DIR,required"`

	DatabaseUri string `env:"DATABASE_URI"`

	// AuthProvider selects how inbound identities are resolved: jwt,
	// keycloak, or bypass (DEV_MODE only).
	AuthProvider string `env:"AUTH_PROVIDER" envDefault:"jwt"`
	JwtSecret    string `env:"JWT_SECRET"`

	KeycloakServerUrl string `env:"KEYCLOAK_SERVER_URL"`
	KeycloakRealm     string `env:"KEYCLOAK_REALM" envDefault:"dtrip4h"`

	DevMode bool `env:"DEV_MODE"`

	FormatTablePath string `env:"FORMAT_TABLE_PATH"`

	MaxUploadMb       int64  `env:"MAX_UPLOAD_MB" envDefault:"512"`
	MinFreeStorageGb  uint64 `env:"MIN_FREE_STORAGE_GB" envDefault:"1"`
	AllowedCorsOrigin string `env:"ALLOWED_CORS_ORIGIN" envDefault:"*"`
}

func loadEnv() (*registryEnv, error) {
	cfg := &registryEnv{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogging(logFile *os.File) {
	jsonHandler := slog.NewJSONHandler(logFile, logging.GetVictoriaLogsOptions(true)).
		WithAttrs([]slog.Attr{slog.String("service_type", "asset_registry")})
	textHandler := slog.NewTextHandler(os.Stderr, nil)

	logger := slog.New(slogmulti.Fanout(jsonHandler, textHandler))
	slog.SetDefault(logger)
	slog.Info("logging initialized", "code", logging.SYSTEM, "log_file", logFile.Name())
}

func initDb(cfg *registryEnv) *gorm.DB {
	var dialector gorm.Dialector
	if cfg.DatabaseUri != "" {
		dialector = postgres.Open(cfg.DatabaseUri)
	} else {
		// single node deployments run off a sqlite file in the share dir
		dialector = sqlite.Open(filepath.Join(cfg.ShareDir, "registry.db"))
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	if err := db.AutoMigrate(schema.AllModels()...); err != nil {
		log.Fatalf("error migrating db schema: %v", err)
	}

	return db
}

func initResolver(cfg *registryEnv) auth.ContextResolver {
	switch cfg.AuthProvider {
	case "keycloak":
		if cfg.KeycloakServerUrl == "" {
			log.Fatal("KEYCLOAK_SERVER_URL must be set when AUTH_PROVIDER=keycloak")
		}
		return auth.NewKeycloakResolver(auth.KeycloakArgs{
			ServerUrl: cfg.KeycloakServerUrl,
			Realm:     cfg.KeycloakRealm,
		})
	case "bypass":
		if !cfg.DevMode {
			log.Fatal("AUTH_PROVIDER=bypass requires DEV_MODE=true")
		}
		return auth.NewBypassResolver("dev-user", "dev-institution")
	case "jwt":
		if cfg.JwtSecret == "" {
			log.Fatal("JWT_SECRET must be set when AUTH_PROVIDER=jwt")
		}
		return auth.NewJwtResolver([]byte(cfg.JwtSecret))
	default:
		log.Fatalf("unknown auth provider '%v'", cfg.AuthProvider)
		return nil
	}
}

func initExtractor(cfg *registryEnv) extractor.Extractor {
	if cfg.FormatTablePath == "" {
		return extractor.NewGeometryExtractor()
	}
	extract, err := extractor.NewGeometryExtractorFromConfig(cfg.FormatTablePath)
	if err != nil {
		log.Fatalf("error loading extractor format table: %v", err)
	}
	return extract
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("error loading .env file '%v': %v", *envFile, err)
		}
	}

	cfg, err := loadEnv()
	if err != nil {
		log.Fatalf("failed to load environment variables: %v", err)
	}

	if err := os.MkdirAll(filepath.Join(cfg.ShareDir, "logs/"), 0777); err != nil {
		log.Fatalf("error creating log dir: %v", err)
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.ShareDir, "logs/asset_registry.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer logFile.Close()

	auditLog, err := os.OpenFile(filepath.Join(cfg.ShareDir, "logs/audit.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening audit log file: %v", err)
	}
	defer auditLog.Close()

	initLogging(logFile)

	db := initDb(cfg)
	store := storage.NewSharedDisk(filepath.Join(cfg.ShareDir, "objects"))
	resolver := initResolver(cfg)

	registry := services.NewAssetRegistry(db, store, initExtractor(cfg), resolver, auth.NewAuditLogger(auditLog), services.Variables{
		BaseUrl:             cfg.PublicUrl,
		MaxUploadBytes:      cfg.MaxUploadMb * 1024 * 1024,
		MinFreeStorageBytes: cfg.MinFreeStorageGb * 1024 * 1024 * 1024,
	})

	go registry.StorageUsageReporter(30 * time.Second)
	defer registry.Stop()

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedCorsOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Mount("/api/v1", registry.Routes())
	r.Mount("/metrics", metrics.Handler())

	slog.Info("starting server", "code", logging.SYSTEM, "port", *port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *port), r); err != nil {
		log.Fatalf("listen and serve returned error: %v", err)
	}
}
