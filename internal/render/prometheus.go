package render

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/kubeadapt/gpu-inventory/internal/observability"
	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

// Gatherer returns a gatherer exposing r, plus self metrics when m is set.
func Gatherer(r model.Report, m *observability.Metrics) (prometheus.Gatherer, error) {
	reg := prometheus.NewRegistry()
	source := func(context.Context) (model.Report, error) { return r, nil }
	if err := reg.Register(observability.NewReportCollector(source, 0)); err != nil {
		return nil, err
	}
	if m == nil {
		return reg, nil
	}
	return prometheus.Gatherers{reg, m.Registry}, nil
}

func writePrometheus(w io.Writer, r model.Report, m *observability.Metrics) error {
	g, err := Gatherer(r, m)
	if err != nil {
		return err
	}
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
