// Package spsmetrics wraps github.com/prometheus/client_golang counters
// for the ambient observability the distilled spec is silent on. A nil
// *Set is valid everywhere and records nothing, so wiring metrics into
// a Session is opt-in.
package spsmetrics

import "github.com/prometheus/client_golang/prometheus"

// Set is the registered collector group for one library instance.
type Set struct {
	PipesActive      prometheus.Gauge
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	MessagesDropped  *prometheus.CounterVec
	SurveyVotes      *prometheus.CounterVec
	Reconnects       prometheus.Counter
}

// NewSet builds and registers a Set against reg. Pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to publish on the default /metrics path.
func NewSet(reg prometheus.Registerer) *Set {
	s := &Set{
		PipesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spscale",
			Name:      "pipes_active",
			Help:      "Number of pipes currently in the Active state.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spscale",
			Name:      "messages_sent_total",
			Help:      "Messages successfully written to at least one pipe.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spscale",
			Name:      "messages_received_total",
			Help:      "Messages surfaced to a user recv call.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spscale",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped (lossy broadcast backpressure, unmatched subscription, stale survey/request id).",
		}, []string{"reason"}),
		SurveyVotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spscale",
			Name:      "survey_votes_total",
			Help:      "Votes seen by a surveyor socket, partitioned by acceptance.",
		}, []string{"result"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spscale",
			Name:      "reconnects_total",
			Help:      "Automatic reconnect attempts made by connect-born endpoints, plus Req request resends.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.PipesActive, s.MessagesSent, s.MessagesReceived, s.MessagesDropped, s.SurveyVotes, s.Reconnects)
	}
	return s
}

func (s *Set) incPipes(delta float64) {
	if s == nil {
		return
	}
	s.PipesActive.Add(delta)
}

// PipeOpened / PipeClosed / Sent / Received / Dropped / Vote / Reconnect
// are nil-safe recording helpers used throughout internal/.
func (s *Set) PipeOpened()              { s.incPipes(1) }
func (s *Set) PipeClosed()              { s.incPipes(-1) }
func (s *Set) Sent()                    { if s != nil { s.MessagesSent.Inc() } }
func (s *Set) Received()                { if s != nil { s.MessagesReceived.Inc() } }
func (s *Set) Dropped(reason string)    { if s != nil { s.MessagesDropped.WithLabelValues(reason).Inc() } }
func (s *Set) Vote(result string)       { if s != nil { s.SurveyVotes.WithLabelValues(result).Inc() } }
func (s *Set) Reconnect()               { if s != nil { s.Reconnects.Inc() } }
