package background

import (
	"context"
	"log"
	"sync"
	"time"

	"shulpad/internal/repositories"
	"shulpad/internal/services"

	"github.com/go-co-op/gocron/v2"
)

// JobScheduler manages the recurring maintenance jobs: draining pending
// catalog syncs and refreshing Square tokens before they expire.
type JobScheduler struct {
	scheduler      gocron.Scheduler
	catalogSvc     services.CatalogService
	oauthSvc       services.OAuthService
	connectionRepo repositories.ConnectionRepository
	jobs           map[string]gocron.Job
	mu             sync.RWMutex
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler(catalogSvc services.CatalogService, oauthSvc services.OAuthService,
	connectionRepo repositories.ConnectionRepository) *JobScheduler {

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	js := &JobScheduler{
		scheduler:      scheduler,
		catalogSvc:     catalogSvc,
		oauthSvc:       oauthSvc,
		connectionRepo: connectionRepo,
		jobs:           make(map[string]gocron.Job),
	}

	js.registerJobs()

	return js
}

// Start starts the job scheduler
func (js *JobScheduler) Start() error {
	log.Printf("Starting background job scheduler")
	js.scheduler.Start()
	return nil
}

// Stop stops the job scheduler
func (js *JobScheduler) Stop() error {
	log.Printf("Stopping background job scheduler")
	return js.scheduler.Shutdown()
}

// registerJobs registers all background jobs
func (js *JobScheduler) registerJobs() {
	// Catalog sweep - nightly at 03:00, picks up organizations whose
	// preset changes never made it to Square.
	catalogJob, err := js.scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(js.sweepPendingCatalogSyncs, context.Background()),
		gocron.WithName("catalog-sync-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Printf("Failed to create catalog sweep job: %v", err)
	} else {
		js.jobs["catalog-sync-sweep"] = catalogJob
	}

	// Token refresh - every 6 hours, refreshes tokens expiring within
	// the next day.
	tokenJob, err := js.scheduler.NewJob(
		gocron.DurationJob(6*time.Hour),
		gocron.NewTask(js.refreshExpiringTokens, context.Background()),
		gocron.WithName("token-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Printf("Failed to create token refresh job: %v", err)
	} else {
		js.jobs["token-refresh"] = tokenJob
	}
}

func (js *JobScheduler) sweepPendingCatalogSyncs(ctx context.Context) {
	results, err := js.catalogSvc.SyncAll(ctx, false)
	if err != nil {
		log.Printf("WARN: catalog sync sweep failed: %v", err)
		return
	}
	synced := 0
	for _, r := range results {
		if r.Status == services.SyncStatusSynced {
			synced++
		}
	}
	log.Printf("Catalog sync sweep completed: %d organizations, %d synced", len(results), synced)
}

func (js *JobScheduler) refreshExpiringTokens(ctx context.Context) {
	cutoff := time.Now().Add(24 * time.Hour)
	conns, err := js.connectionRepo.ListExpiringBefore(ctx, cutoff)
	if err != nil {
		log.Printf("WARN: listing expiring connections failed: %v", err)
		return
	}
	for _, conn := range conns {
		if err := js.oauthSvc.RefreshConnection(ctx, conn); err != nil {
			// One merchant's failed refresh must not stop the rest.
			log.Printf("WARN: token refresh for merchant %s failed: %v", conn.MerchantID, err)
		}
	}
	if len(conns) > 0 {
		log.Printf("Token refresh completed for %d connections", len(conns))
	}
}
