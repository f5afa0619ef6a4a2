package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forecastmcp",
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Connected websocket subscribers",
		},
	)

	StreamMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forecastmcp",
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Websocket messages by outcome",
		},
		[]string{"result"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(StreamClients, StreamMessages)
	})
}
