package metrics

import (
	"net/http"

	"github.com/berfenger/wisun2metrics/internal/core/domain"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Exporter mirrors the sensor events of the event stream into Prometheus
// gauges. Gauges keep their last value until a newer reading arrives.
type Exporter struct {
	registry *prometheus.Registry

	energy   prometheus.Gauge
	watts    prometheus.Gauge
	currentR prometheus.Gauge
	currentT prometheus.Gauge
	rssi     prometheus.Gauge
	frames   *prometheus.CounterVec

	subscription *eventstream.Subscription
	logger       *zap.Logger
}

func NewExporter(logger *zap.Logger) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		energy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "accumulated_power_consumption_kWh",
			Help: "Accumulated power consumption in kWh",
		}),
		watts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "power_consumption_watt",
			Help: "Power consumption in Watt",
		}),
		currentR: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "power_consumption_ampare_r",
			Help: "Power consumption in Ampare(R)",
		}),
		currentT: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "power_consumption_ampare_t",
			Help: "Power consumption in Ampare(T)",
		}),
		rssi: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartmeter_link_rssi_dbm",
			Help: "Received signal strength of the meter link in dBm",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartmeter_frames_total",
			Help: "ECHONET Lite frames received from the modem by outcome",
		}, []string{"result"}),
		logger: logger.With(zap.String("component", "metrics")),
	}
	e.registry.MustRegister(e.energy, e.watts, e.currentR, e.currentT, e.rssi, e.frames)
	e.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return e
}

// Subscribe feeds every event published on es into the exporter
func (e *Exporter) Subscribe(es *eventstream.EventStream) {
	e.subscription = es.Subscribe(e.Handle)
}

func (e *Exporter) Unsubscribe(es *eventstream.EventStream) {
	if e.subscription != nil {
		es.Unsubscribe(e.subscription)
		e.subscription = nil
	}
}

func (e *Exporter) Handle(evt any) {
	switch ev := evt.(type) {
	case domain.FloatSensorUpdateEvent:
		gauge := e.gauge(ev.Id)
		if gauge == nil {
			return
		}
		gauge.Set(ev.Value)
		e.logger.Debug("gauge set", zap.String("sensor", ev.Id), zap.Float64("value", ev.Value))
	case domain.FrameReceivedEvent:
		e.frames.WithLabelValues(string(ev.Result)).Inc()
	}
}

func (e *Exporter) gauge(sensorId string) prometheus.Gauge {
	switch sensorId {
	case domain.SENSOR_ID_CUMULATIVE_ENERGY:
		return e.energy
	case domain.SENSOR_ID_INSTANTANEOUS_WATT:
		return e.watts
	case domain.SENSOR_ID_CURRENT_R:
		return e.currentR
	case domain.SENSOR_ID_CURRENT_T:
		return e.currentT
	case domain.SENSOR_ID_LINK_RSSI:
		return e.rssi
	}
	return nil
}

func (e *Exporter) Gatherer() prometheus.Gatherer {
	return e.registry
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
