package services

import (
	"context"
	"strconv"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/redis/go-redis/v9"

	"edu-knowledge-platform/internal/errs"
	"edu-knowledge-platform/internal/logger"
)

const reconcileMarkerKey = "knowledge:reconcile:pending"

// RedisReconcileMarkers keeps pending-delete tenant ids in a Redis set so an
// interrupted cascade survives process restarts.
type RedisReconcileMarkers struct {
	client *redis.Client
}

func NewRedisReconcileMarkers(client *redis.Client) *RedisReconcileMarkers {
	return &RedisReconcileMarkers{client: client}
}

func (m *RedisReconcileMarkers) Mark(ctx context.Context, tenantID int64) error {
	if err := m.client.SAdd(ctx, reconcileMarkerKey, tenantID).Err(); err != nil {
		return errs.Transient("reconcile.mark", err)
	}
	return nil
}

func (m *RedisReconcileMarkers) Clear(ctx context.Context, tenantID int64) error {
	if err := m.client.SRem(ctx, reconcileMarkerKey, tenantID).Err(); err != nil {
		return errs.Transient("reconcile.clear", err)
	}
	return nil
}

func (m *RedisReconcileMarkers) Pending(ctx context.Context) ([]int64, error) {
	members, err := m.client.SMembers(ctx, reconcileMarkerKey).Result()
	if err != nil {
		return nil, errs.Transient("reconcile.pending", err)
	}
	tenants := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			logger.Warn("Skipping malformed reconcile marker", "value", member)
			continue
		}
		tenants = append(tenants, id)
	}
	return tenants, nil
}

// ReconcileScheduler periodically sweeps for interrupted cascade deletes.
type ReconcileScheduler struct {
	scheduler *gocron.Scheduler
	lifecycle *Lifecycle
	interval  time.Duration
}

func NewReconcileScheduler(lifecycle *Lifecycle, interval time.Duration) *ReconcileScheduler {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &ReconcileScheduler{
		scheduler: s,
		lifecycle: lifecycle,
		interval:  interval,
	}
}

func (r *ReconcileScheduler) Start() error {
	_, err := r.scheduler.Every(r.interval).Tag("knowledge-reconcile").Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := r.lifecycle.Reconcile(ctx); err != nil {
			logger.Error("Reconcile sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	r.scheduler.StartAsync()
	logger.Info("Reconcile scheduler started", "interval", r.interval.String())
	return nil
}

func (r *ReconcileScheduler) Stop() {
	r.scheduler.Stop()
}
