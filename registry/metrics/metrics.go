package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	assetsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_assets_created_total",
		Help: "Number of assets registered.",
	})

	assetsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_assets_deleted_total",
		Help: "Number of assets deleted.",
	})

	assetReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_asset_reads_total",
		Help: "Number of asset info or download reads served.",
	})

	versionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_versions_created_total",
		Help: "Number of asset versions committed.",
	})

	versionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_version_conflicts_total",
		Help: "Number of version commits abandoned after conflicting updates.",
	})

	permissionDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_permission_denials_total",
		Help: "Number of requests denied by the access policy, by action.",
	}, []string{"action"})

	extractionsDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_extractions_degraded_total",
		Help: "Number of uploads committed without extracted metadata.",
	})

	storageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_storage_errors_total",
		Help: "Number of object storage operations that failed.",
	})

	storageFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "registry_storage_free_bytes",
		Help: "Free bytes reported by the backing object store.",
	})
)

func AssetCreated() { assetsCreated.Inc() }

func AssetDeleted() { assetsDeleted.Inc() }

func AssetRead() { assetReads.Inc() }

func VersionCreated() { versionsCreated.Inc() }

func VersionConflict() { versionConflicts.Inc() }

func PermissionDenied(action string) { permissionDenials.WithLabelValues(action).Inc() }

func ExtractionDegraded() { extractionsDegraded.Inc() }

func StorageError() { storageErrors.Inc() }

func RecordStorageFreeBytes(free uint64) { storageFreeBytes.Set(float64(free)) }

func Handler() http.Handler {
	return promhttp.Handler()
}
