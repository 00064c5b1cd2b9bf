package posting

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Pushgateway pushes the reading as gauges. The device sleeps between wakes,
// so there is nothing to scrape.
type Pushgateway struct {
	url      string
	job      string
	client   *http.Client
	registry *prometheus.Registry

	promLevel     prometheus.Gauge
	promLiters    prometheus.Gauge
	promPercent   prometheus.Gauge
	promEnclosure prometheus.Gauge
	promPosted    prometheus.Gauge
}

func NewPushgateway(url, job string, client *http.Client) *Pushgateway {
	if client == nil {
		client = http.DefaultClient
	}
	p := &Pushgateway{
		url:      url,
		job:      job,
		client:   client,
		registry: prometheus.NewRegistry(),
		promLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cistern_level_mm",
			Help: "Water level mm",
		}),
		promLiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cistern_content_liters",
			Help: "Water content liters",
		}),
		promPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cistern_content_percent",
			Help: "Water content percent of full",
		}),
		promEnclosure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cistern_enclosure_temperature",
			Help: "Enclosure temperature C",
		}),
		promPosted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cistern_last_post_timestamp_seconds",
			Help: "Time of the last posted reading",
		}),
	}
	p.registry.MustRegister(
		p.promLevel,
		p.promLiters,
		p.promPercent,
		p.promPosted)
	return p
}

func (p *Pushgateway) Name() string { return "pushgateway" }

func (p *Pushgateway) Post(ctx context.Context, r Reading) error {
	p.promLevel.Set(r.LevelMM)
	p.promLiters.Set(r.Liters)
	p.promPercent.Set(r.Percent)
	p.promPosted.Set(float64(r.At.Unix()))
	if r.EnclosureC != nil {
		// registered on first use so a missing sensor does not push zero
		_ = p.registry.Register(p.promEnclosure)
		p.promEnclosure.Set(*r.EnclosureC)
	}
	return push.New(p.url, p.job).
		Gatherer(p.registry).
		Client(ctxDoer{ctx: ctx, client: p.client}).
		Push()
}

// ctxDoer ties the push requests to the posting deadline.
type ctxDoer struct {
	ctx    context.Context
	client *http.Client
}

func (d ctxDoer) Do(req *http.Request) (*http.Response, error) {
	return d.client.Do(req.WithContext(d.ctx))
}
