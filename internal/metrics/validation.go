package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ValidationChecksTotal количество проверок бизнес-правил по исходам
	ValidationChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geobank_validation_checks_total",
		Help: "Total number of business rule checks by outcome",
	}, []string{"rule", "outcome"}) // outcome: pass, fail

	// ValidationDuration длительность полного прогона цепочки правил
	ValidationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geobank_validation_duration_seconds",
		Help:    "Duration of the full registration rule chain",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
	})

	// ValidationNearestDistanceKm расстояние до ближайшего операционного
	// отделения в момент проверки кандидата
	ValidationNearestDistanceKm = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geobank_validation_nearest_distance_km",
		Help:    "Distance to the nearest operational branch at validation time",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25},
	})

	// ValidationSaturationCount число операционных отделений в радиусе
	// проверки насыщенности
	ValidationSaturationCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geobank_validation_saturation_count",
		Help:    "Operational branches within the saturation radius at validation time",
		Buckets: []float64{0, 1, 2, 5, 8, 10, 15, 20, 50},
	})
)
