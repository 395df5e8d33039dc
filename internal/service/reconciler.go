package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/geobank/branches-backend/internal/geo"
	"github.com/geobank/branches-backend/internal/metrics"
	"github.com/geobank/branches-backend/internal/models"
	"github.com/geobank/branches-backend/internal/repository"
)

// Reconciler сверяет пространственный индекс с хранилищем и устраняет
// расхождения. Хранилище является источником истины: отделения,
// отсутствующие в индексе, вставляются, осиротевшие записи индекса
// удаляются. Запускается планировщиком с фиксированным интервалом.
type Reconciler struct {
	index  SpatialIndex
	store  repository.BranchStore
	logger *logrus.Entry
}

// NewReconciler создает реконсилятор индекса
func NewReconciler(index SpatialIndex, store repository.BranchStore, logger *logrus.Entry) *Reconciler {
	return &Reconciler{
		index:  index,
		store:  store,
		logger: logger,
	}
}

// Reconcile выполняет один проход сверки и возвращает число починок
func (r *Reconciler) Reconcile(ctx context.Context) (inserted, removed int, err error) {
	branches, err := r.store.FindAll(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load branches for reconciliation: %w", err)
	}

	stored := make(map[string]*models.Branch, len(branches))
	for _, b := range branches {
		stored[b.ID.String()] = b
	}

	for id, b := range stored {
		if r.index.Contains(id) {
			continue
		}
		r.index.Insert(geo.Member{
			ID:  id,
			Lat: b.Location.Latitude,
			Lon: b.Location.Longitude,
		})
		inserted++
		metrics.SpatialIndexDesyncs.Inc()
		metrics.ReconcilerRepairs.WithLabelValues("inserted").Inc()
		r.logger.WithField("branch_id", id).Warn("INDEX_DESYNC: branch missing from spatial index, repaired")
	}

	for _, id := range r.index.IDs() {
		if _, ok := stored[id]; ok {
			continue
		}
		r.index.Remove(id)
		removed++
		metrics.SpatialIndexDesyncs.Inc()
		metrics.ReconcilerRepairs.WithLabelValues("removed").Inc()
		r.logger.WithField("branch_id", id).Warn("INDEX_DESYNC: orphaned index entry removed")
	}

	metrics.SpatialIndexSize.Set(float64(r.index.Size()))

	if inserted+removed > 0 {
		r.logger.WithFields(logrus.Fields{
			"inserted": inserted,
			"removed":  removed,
		}).Info("Spatial index reconciled with store")
	} else {
		r.logger.Debug("Spatial index is consistent with store")
	}
	return inserted, removed, nil
}
