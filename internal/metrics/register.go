package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// register регистрирует коллектор; при повторной регистрации возвращает уже существующий,
// чтобы несколько экземпляров сервиса в одном процессе делили одни метрики.
func register[C prometheus.Collector](registerer prometheus.Registerer, name string, collector C) C {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var alreadyRegistered prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		existing, ok := alreadyRegistered.ExistingCollector.(C)
		if !ok {
			panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
		}
		return existing
	}
	panic(fmt.Sprintf("register collector %q: %v", name, err))
}

func counterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	return register(registerer, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func histogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels ...string) *prometheus.HistogramVec {
	return register(registerer, opts.Name, prometheus.NewHistogramVec(opts, labels))
}

func gauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	return register(registerer, opts.Name, prometheus.NewGauge(opts))
}
