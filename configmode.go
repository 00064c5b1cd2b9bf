package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/gr-butler/cistern/config"
	"github.com/gr-butler/cistern/env"
	logger "github.com/sirupsen/logrus"
)

type measureReply struct {
	Distance float64
	Quality  int
	Error    string `json:",omitempty"`
}

type statusReply struct {
	Status string
	Error  string `json:",omitempty"`
}

// configure blinks the LED and waits for a configuration on the config port.
// A valid one is saved and ends configuration mode.
func (g *gauge) configure(ctx context.Context) error {
	g.status.Blink(env.ConfigBlinkPeriod, env.ConfigBlinkPeriod)
	defer g.status.Off()

	cfg, err := g.serveConfig(ctx)
	if err != nil {
		logger.Errorf("Configuration mode failed [%v]", err)
		return g.ctrl.Sleep(ctx)
	}
	g.apply(cfg)
	logger.Info("Found valid configuration!")
	return g.ctrl.LeaveConfigMode(ctx)
}

func (g *gauge) serveConfig(ctx context.Context) (*config.Config, error) {
	ln, err := net.Listen("tcp", g.configAddr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	logger.Infof("Listening for configuration at [%v]", ln.Addr())
	if g.onListen != nil {
		g.onListen(ln.Addr().String())
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		logger.Info("Incoming connection ...")
		cfg, err := g.handleConfig(ctx, conn)
		_ = conn.Close()
		if err != nil {
			logger.Warnf("Data incomplete [%v]", err)
			continue
		}
		if cfg != nil {
			return cfg, nil
		}
	}
}

// handleConfig serves one request. It returns nil without an error for a
// measurement request.
func (g *gauge) handleConfig(ctx context.Context, conn net.Conn) (*config.Config, error) {
	_ = conn.SetDeadline(time.Now().Add(time.Minute))
	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		return nil, err
	}
	enc := json.NewEncoder(conn)
	p, err := config.ParseProvision(raw)
	if err != nil {
		_ = enc.Encode(statusReply{Status: "rejected", Error: err.Error()})
		return nil, err
	}

	if p.Measure {
		d, q, err := g.singleShot(ctx)
		reply := measureReply{Distance: d, Quality: q}
		if err != nil {
			reply.Error = err.Error()
		}
		logger.Infof("Calibration distance [%.0f] mm quality [%v]", d, q)
		return nil, enc.Encode(reply)
	}

	cfg, err := p.Config(g.cfg)
	if err != nil {
		_ = enc.Encode(statusReply{Status: "rejected", Error: err.Error()})
		return nil, err
	}
	if err := config.Save(g.configPath, cfg); err != nil {
		_ = enc.Encode(statusReply{Status: "failed", Error: err.Error()})
		return nil, fmt.Errorf("save configuration: %w", err)
	}
	_ = enc.Encode(statusReply{Status: "ok"})
	return cfg, nil
}
