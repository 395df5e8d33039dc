package service

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geobank/branches-backend/internal/metrics"
	"github.com/geobank/branches-backend/internal/models"
)

// NeighborView операционное отделение в окрестности кандидата с заранее
// вычисленным расстоянием. Выборку готовит движок регистрации запросом
// к пространственному индексу, валидатор полного скана не делает.
type NeighborView struct {
	Branch     *models.Branch
	DistanceKm float64
}

// RuleValidator применяет бизнес-правила размещения отделений и
// переходов статуса. Валидатор не хранит состояния и безопасен для
// конкурентного вызова.
type RuleValidator struct {
	config *models.RuleConfig
	logger *logrus.Entry
}

// NewRuleValidator создает новый валидатор бизнес-правил
func NewRuleValidator(config *models.RuleConfig, logger *logrus.Entry) *RuleValidator {
	if config == nil {
		config = models.DefaultRuleConfig()
	}
	return &RuleValidator{
		config: config,
		logger: logger,
	}
}

// ValidateRegistration проверяет правила размещения кандидата. Правила
// применяются по порядку, проверка останавливается на первом нарушении.
// neighbors содержит операционные отделения в радиусе насыщенности.
func (v *RuleValidator) ValidateRegistration(candidate *models.Branch, neighbors []NeighborView) *models.RuleViolation {
	start := time.Now()
	defer func() {
		metrics.ValidationDuration.Observe(time.Since(start).Seconds())
	}()

	// Правило минимальной дистанции: каждое операционное отделение
	// должно быть не ближе MinInterBranchKm от кандидата
	if violation := v.checkMinimumDistance(candidate, neighbors); violation != nil {
		return violation
	}

	// Правило насыщенности района: TRADITIONAL отделение не открывается
	// там, где операционных отделений уже достаточно
	if violation := v.checkSaturation(candidate, neighbors); violation != nil {
		return violation
	}

	return nil
}

// checkMinimumDistance находит ближайшего соседа и сравнивает с порогом
func (v *RuleValidator) checkMinimumDistance(candidate *models.Branch, neighbors []NeighborView) *models.RuleViolation {
	var offender *NeighborView
	nearest := -1.0

	for i := range neighbors {
		n := &neighbors[i]
		if nearest < 0 || n.DistanceKm < nearest {
			nearest = n.DistanceKm
		}
		if n.DistanceKm < v.config.MinInterBranchKm {
			if offender == nil || n.DistanceKm < offender.DistanceKm {
				offender = n
			}
		}
	}

	if nearest >= 0 {
		metrics.ValidationNearestDistanceKm.Observe(nearest)
	}

	if offender != nil {
		metrics.ValidationChecksTotal.WithLabelValues("too_close", "fail").Inc()
		v.logger.WithFields(logrus.Fields{
			"candidate_id": candidate.ID,
			"offender_id":  offender.Branch.ID,
			"distance_km":  offender.DistanceKm,
			"min_distance": v.config.MinInterBranchKm,
		}).Warn("Branch placement rejected: too close to existing branch")

		return &models.RuleViolation{
			Code: models.RuleTooClose,
			Message: fmt.Sprintf("branch is %.3f km away from existing branch %s, minimum allowed distance is %.1f km",
				offender.DistanceKm, offender.Branch.ID, v.config.MinInterBranchKm),
			Details: map[string]interface{}{
				"branch_id":       offender.Branch.ID.String(),
				"distance_km":     offender.DistanceKm,
				"min_distance_km": v.config.MinInterBranchKm,
			},
		}
	}

	metrics.ValidationChecksTotal.WithLabelValues("too_close", "pass").Inc()
	return nil
}

// checkSaturation считает операционных соседей в радиусе насыщенности
func (v *RuleValidator) checkSaturation(candidate *models.Branch, neighbors []NeighborView) *models.RuleViolation {
	count := 0
	for i := range neighbors {
		if neighbors[i].DistanceKm <= v.config.SaturationRadiusKm {
			count++
		}
	}
	metrics.ValidationSaturationCount.Observe(float64(count))

	if count >= v.config.SaturationCount && candidate.Type == models.BranchTypeTraditional {
		metrics.ValidationChecksTotal.WithLabelValues("area_saturated", "fail").Inc()
		v.logger.WithFields(logrus.Fields{
			"candidate_id": candidate.ID,
			"count":        count,
			"radius_km":    v.config.SaturationRadiusKm,
			"max_count":    v.config.SaturationCount,
		}).Warn("Branch placement rejected: area saturated")

		return &models.RuleViolation{
			Code: models.RuleAreaSaturated,
			Message: fmt.Sprintf("area already has %d operational branches within %.1f km, cannot open another traditional branch",
				count, v.config.SaturationRadiusKm),
			Details: map[string]interface{}{
				"operational_count": count,
				"radius_km":         v.config.SaturationRadiusKm,
				"saturation_count":  v.config.SaturationCount,
			},
		}
	}

	metrics.ValidationChecksTotal.WithLabelValues("area_saturated", "pass").Inc()
	return nil
}

// ValidateTransition проверяет правила смены статуса отделения.
// PERMANENTLY_CLOSED терминален, а прямой переход ACTIVE в
// PERMANENTLY_CLOSED запрещен: отделение сначала проходит через
// временное закрытие.
func (v *RuleValidator) ValidateTransition(branch *models.Branch, target models.BranchStatus) *models.RuleViolation {
	current := branch.Status

	var message string
	switch {
	case current == models.BranchStatusPermanentlyClosed:
		message = "branch is permanently closed, no further status changes are allowed"
	case current == models.BranchStatusActive && target == models.BranchStatusPermanentlyClosed:
		message = "active branch cannot be closed permanently, it must pass through a temporary closure first"
	case !current.CanTransitionTo(target):
		message = fmt.Sprintf("status transition from %s to %s is not permitted", current, target)
	}

	if message == "" {
		metrics.ValidationChecksTotal.WithLabelValues("transition", "pass").Inc()
		return nil
	}

	metrics.ValidationChecksTotal.WithLabelValues("transition", "fail").Inc()
	v.logger.WithFields(logrus.Fields{
		"branch_id": branch.ID,
		"from":      current,
		"to":        target,
	}).Warn("Status transition rejected")

	return &models.RuleViolation{
		Code:    models.RuleIllegalTransition,
		Message: message,
		Details: map[string]interface{}{
			"from": current.String(),
			"to":   target.String(),
		},
	}
}

// ValidateCompliance проверяет регуляторные требования к отделению.
// Используется административными операциями всегда, горячим путем
// регистрации только при включенном StrictCompliance.
func (v *RuleValidator) ValidateCompliance(branch *models.Branch) *models.RuleViolation {
	if branch.ContactPhone == "" {
		metrics.ValidationChecksTotal.WithLabelValues("compliance", "fail").Inc()
		return &models.RuleViolation{
			Code:    models.RuleMissingContactPhone,
			Message: "branch must have a contact phone for regulatory compliance",
			Details: map[string]interface{}{
				"branch_id": branch.ID.String(),
			},
		}
	}

	metrics.ValidationChecksTotal.WithLabelValues("compliance", "pass").Inc()
	return nil
}
