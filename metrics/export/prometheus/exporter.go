package prometheus

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

// MetricsSource is what the exporter reads on every scrape. *goSession.Client
// satisfies it.
type MetricsSource interface {
	MetricsSnapshot() goSession.MetricsSnapshot
	EventsDropped() uint64
}

// PrometheusExporter renders client metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source MetricsSource
}

// NewPrometheusExporter creates an exporter reading from client.
func NewPrometheusExporter(client *goSession.Client) *PrometheusExporter {
	return &PrometheusExporter{source: client}
}

// NewPrometheusExporterFromSource creates an exporter from a custom source.
func NewPrometheusExporterFromSource(source MetricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render on every request.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, p.Render())
	})
}

// Render returns the current metrics, or "" when metrics are disabled and no
// events were dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snap := p.source.MetricsSnapshot()
	dropped := p.source.EventsDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)
	enc := encoder{w: &b}

	for _, def := range internaldefs.CounterDefs {
		enc.counter(def.Name, def.Help, snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[def.ID]))
		enc.histogram(def.Name, def.Help, buckets, snap.Sums[def.ID].Seconds())
	}
	enc.counter(internaldefs.EventsDroppedName, internaldefs.EventsDroppedHelp, dropped)

	return b.String()
}

type encoder struct {
	w *strings.Builder
}

func (e encoder) family(name, help, kind string) {
	fmt.Fprintf(e.w, "# HELP %s %s\n# TYPE %s %s\n", name, helpEscaper.Replace(help), name, kind)
}

func (e encoder) sample(name, le, value string) {
	e.w.WriteString(name)
	if le != "" {
		e.w.WriteString(`{le="`)
		e.w.WriteString(le)
		e.w.WriteString(`"}`)
	}
	e.w.WriteByte(' ')
	e.w.WriteString(value)
	e.w.WriteByte('\n')
}

func (e encoder) counter(name, help string, v uint64) {
	e.family(name, help, "counter")
	e.sample(name, "", strconv.FormatUint(v, 10))
}

// histogram writes cumulative buckets followed by _sum and _count, with the
// sum in seconds.
func (e encoder) histogram(name, help string, cumulative [8]uint64, sumSeconds float64) {
	e.family(name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		e.sample(name+"_bucket", le, strconv.FormatUint(cumulative[i], 10))
	}
	e.sample(name+"_sum", "", strconv.FormatFloat(sumSeconds, 'g', -1, 64))
	e.sample(name+"_count", "", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
}
