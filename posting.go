package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gr-butler/cistern/config"
	"github.com/gr-butler/cistern/logring"
	"github.com/gr-butler/cistern/posting"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func buildSinks(cfg *config.Config) (primary, extra []posting.Sink) {
	p := cfg.Posting
	client := &http.Client{Timeout: time.Second * 30}
	if p.ThingSpeak.Enabled() {
		primary = append(primary, posting.NewThingSpeak(p.ThingSpeak.URL, p.ThingSpeak.APIKey, client))
	}
	if p.MQTT.Enabled() {
		primary = append(primary, posting.NewMQTT(p.MQTT))
	}
	if p.Pushgateway.Enabled() {
		extra = append(extra, posting.NewPushgateway(p.Pushgateway.URL, p.Pushgateway.Job, client))
	}
	if p.History.Enabled() {
		h, err := posting.OpenHistory(p.History.DSN)
		if err != nil {
			logger.Errorf("Failed to open history [%v]", err)
		} else {
			extra = append(extra, h)
		}
	}
	return primary, extra
}

// post sends the pending measurement and log. Everything runs concurrently
// under one deadline and is joined before the controller is updated.
func (g *gauge) post(ctx context.Context) {
	g.status.On()
	defer g.status.Off()
	ctx, cancel := context.WithTimeout(ctx, g.postTimeout)
	defer cancel()

	measurement := g.ctrl.WantsPostMeasurement()
	var eg errgroup.Group
	var results []error

	if measurement {
		r := g.reading()
		logger.Infof("Posting [%.0f] cm [%.0f] l [%.0f] %%", r.Centimeters, r.Liters, r.Percent)
		if g.testMode {
			logger.Info("TEST MODE, not posting")
		} else {
			results = make([]error, len(g.primary))
			for i, s := range g.primary {
				i, s := i, s
				eg.Go(func() error {
					results[i] = s.Post(ctx, r)
					return nil
				})
			}
			for _, s := range g.extra {
				s := s
				eg.Go(func() error {
					if err := s.Post(ctx, r); err != nil {
						logger.Warnf("Posting to [%v] failed [%v]", s.Name(), err)
					}
					return nil
				})
			}
		}
	}
	if g.log != nil && g.logType != logring.Disabled && (measurement || g.ctrl.WantsPostLog()) {
		eg.Go(func() error {
			if err := g.log.Post(ctx, g.logDest); err != nil && !errors.Is(err, logring.ErrDisabled) {
				logger.Warnf("Failed to post log [%v]", err)
			}
			return nil
		})
	}
	_ = eg.Wait()

	if !measurement {
		return
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Warn("Posting timed out")
	}
	if g.posted(results) {
		g.ctrl.MarkPosted()
	} else {
		logger.Warn("Posting canceled")
		g.ctrl.MarkPostingCanceled()
	}
}

// posted is true when any primary sink took the reading, or there is none.
func (g *gauge) posted(results []error) bool {
	if len(results) == 0 {
		return true
	}
	ok := false
	for i, err := range results {
		if err != nil {
			logger.Errorf("Posting to [%v] failed [%v]", g.primary[i].Name(), err)
			continue
		}
		logger.Infof("Posted to [%v]", g.primary[i].Name())
		ok = true
	}
	return ok
}

func (g *gauge) reading() posting.Reading {
	level := g.ctrl.LastMeasurement()
	res := g.calc.Calculate(level)
	r := posting.Reading{
		At:          time.Now().UTC(),
		LevelMM:     level,
		Centimeters: res.Centimeters,
		Liters:      res.Liters,
		Percent:     res.Percent,
	}
	if g.enclosure != nil {
		if t, ok := g.enclosure(); ok {
			r.EnclosureC = &t
		}
	}
	return r
}
