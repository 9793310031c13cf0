package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strings"

	bookstore "github.com/asaidimu/bookstore-queries"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ExitError carries the process exit code alongside the cause.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// exitCodeFromError picks the exit code for err: an explicit ExitError wins,
// then config error codes, then fallback.
func exitCodeFromError(err error, fallback int) int {
	var ee *ExitError
	if stderrors.As(err, &ee) {
		return ee.Code
	}
	if code, ok := bookstore.RFCCode(err); ok {
		switch code {
		case bookstore.ErrInvalidConfig.RFCCode():
			return ExitCodeInvalidConfig
		case bookstore.ErrDecodeConfig.RFCCode():
			return ExitCodeDecodeConfigFailed
		}
	}
	return fallback
}

// printMetrics writes counters and histogram totals in a compact text form.
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nMetrics:")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName() + formatLabels(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				fmt.Fprintf(w, "  %s %g\n", name, m.GetCounter().GetValue())
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				fmt.Fprintf(w, "  %s count=%d sum=%.6fs\n", name, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s=%q", p.GetName(), p.GetValue()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
