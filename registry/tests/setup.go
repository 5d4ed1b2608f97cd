package tests

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"metro_platform/registry/auth"
	"metro_platform/registry/extractor"
	"metro_platform/registry/schema"
	"metro_platform/registry/services"
	"metro_platform/registry/storage"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	registry services.AssetRegistry
	api      chi.Router
	storage  storage.Storage
	resolver *auth.JwtResolver
	db       *gorm.DB
}

const testInstitution = "univ-alpha"

// each env gets its own named in-memory db; an unnamed ::memory: shared-cache
// db is global to the process and leaks rows between tests
var testDbCounter atomic.Int64

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWithStorage(t, nil)
}

// setupTestEnvWithStorage lets a test wrap the object store, e.g. to inject
// failures.
func setupTestEnvWithStorage(t *testing.T, wrap func(storage.Storage) storage.Storage) *testEnv {
	// shared cache so every pooled connection sees the same in-memory db
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared&_busy_timeout=5000", testDbCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.AutoMigrate(schema.AllModels()...); err != nil {
		t.Fatal(err)
	}

	storagePath := filepath.Join(t.TempDir(), "storage")
	if err := os.MkdirAll(storagePath, 0777); err != nil {
		t.Fatalf("error creating storage directory: %v", err)
	}
	store := storage.NewSharedDisk(storagePath)
	if wrap != nil {
		store = wrap(store)
	}

	resolver := auth.NewJwtResolver([]byte("290zcv02ai249"))

	registry := services.NewAssetRegistry(
		db, store, extractor.NewGeometryExtractor(),
		resolver, auth.NewAuditLogger(new(bytes.Buffer)),
		services.Variables{
			BaseUrl:        "http://registry.test",
			MaxUploadBytes: 64 * 1024 * 1024,
		},
	)

	return &testEnv{
		registry: registry,
		api:      registry.Routes(),
		storage:  store,
		resolver: resolver,
		db:       db,
	}
}

// newUser builds a client authenticated as a consortium researcher with both
// asset scopes.
func (env *testEnv) newUser(t *testing.T, userId string) client {
	return env.newClient(t, auth.AuthorizationContext{
		UserId:           userId,
		Institution:      testInstitution,
		ConsortiumMember: true,
		Scopes:           []string{auth.ScopeRead, auth.ScopeWrite},
	})
}

func (env *testEnv) newClient(t *testing.T, authCtx auth.AuthorizationContext) client {
	token, err := env.resolver.IssueToken(authCtx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return client{api: env.api, authToken: token, userId: authCtx.UserId}
}
