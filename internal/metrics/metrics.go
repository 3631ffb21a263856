// Package metrics exposes relay activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voxrelay"

// Channels a turn can arrive on.
const (
	ChannelVoice = "voice"
	ChannelChat  = "chat"
)

// SessionCounter reports how many conversations are stored.
type SessionCounter interface {
	Len(ctx context.Context) (int, error)
}

// Recorder owns a registry and the relay's collectors. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry   *prometheus.Registry
	turns      *prometheus.CounterVec
	completion *prometheus.HistogramVec
	synthesis  *prometheus.HistogramVec
	calls      prometheus.Counter
}

// NewRecorder registers collectors on a fresh registry. sessions may be nil.
func NewRecorder(sessions SessionCounter) *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by channel and outcome.",
		}, []string{"channel", "outcome"}),
		completion: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_seconds",
			Help:      "Latency of completion API calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"provider", "result"}),
		synthesis: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_seconds",
			Help:      "Latency of speech synthesis including transcoding.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"provider", "result"}),
		calls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Incoming telephony calls.",
		}),
	}

	reg.MustRegister(r.turns, r.completion, r.synthesis, r.calls)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if sessions != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations",
			Help:      "Conversations currently held by the store.",
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := sessions.Len(ctx)
			if err != nil {
				return -1
			}
			return float64(n)
		}))
	}
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Turn counts a finished turn.
func (r *Recorder) Turn(channel, outcome string) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(channel, outcome).Inc()
}

// Call counts an incoming call.
func (r *Recorder) Call() {
	if r == nil {
		return
	}
	r.calls.Inc()
}

// Completion observes one completion call.
func (r *Recorder) Completion(provider string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.completion.WithLabelValues(provider, result(err)).Observe(d.Seconds())
}

// Synthesis observes one synthesis attempt.
func (r *Recorder) Synthesis(provider string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.synthesis.WithLabelValues(provider, result(err)).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
