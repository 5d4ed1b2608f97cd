package services

import (
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"metro_platform/registry/auth"
	"metro_platform/registry/extractor"
	"metro_platform/registry/metrics"
	"metro_platform/registry/storage"
	"metro_platform/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

type AssetRegistry struct {
	asset AssetService
	tag   TagService

	db      *gorm.DB
	storage storage.Storage
	stop    chan bool
}

func NewAssetRegistry(
	db *gorm.DB, store storage.Storage, extract extractor.Extractor,
	resolver auth.ContextResolver, audit auth.AuditLogger, variables Variables,
) AssetRegistry {
	return AssetRegistry{
		asset: AssetService{
			db:        db,
			storage:   store,
			extractor: extract,
			resolver:  resolver,
			audit:     audit,
			locks:     newLockArena(),
			variables: variables,
		},
		tag: TagService{
			db:       db,
			resolver: resolver,
			audit:    audit,
		},
		db:      db,
		storage: store,
		stop:    make(chan bool, 1),
	}
}

func (m *AssetRegistry) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/assets", m.asset.Routes())
	r.Mount("/tags", m.tag.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}

// StorageUsageReporter refreshes the storage free space gauge until Stop is
// called.
func (m *AssetRegistry) StorageUsageReporter(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			usage, err := m.storage.Usage()
			if err != nil {
				slog.Error("error refreshing storage usage", "error", err)
				continue
			}
			metrics.RecordStorageFreeBytes(usage.FreeBytes)
		case <-m.stop:
			slog.Info("stopping storage usage reporter")
			return
		}
	}
}

func (m *AssetRegistry) Stop() {
	m.stop <- true
}
