package connectivity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Prober feeds a Monitor by periodically requesting a well-known URL.
type Prober struct {
	url     string
	client  *http.Client
	monitor *Monitor
	logger  *zap.Logger
}

func NewProber(url string, timeout time.Duration, monitor *Monitor, logger *zap.Logger) *Prober {
	return &Prober{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		monitor: monitor,
		logger:  logger,
	}
}

// Probe performs a single check and updates the monitor.
func (p *Prober) Probe(ctx context.Context) State {
	state := State{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Error("invalid connectivity probe url", zap.String("url", p.url), zap.Error(err))
		return p.monitor.Current()
	}

	resp, err := p.client.Do(req)
	switch {
	case err == nil:
		resp.Body.Close()
		state.IsConnected = true
		state.IsInternetReachable = resp.StatusCode < 400
	case isDNSOrDial(err):
		// no route at all
	default:
		// reached the network but the probe target failed
		state.IsConnected = true
	}

	p.monitor.Update(state)
	return state
}

// Run probes on every tick until ctx is done.
func (p *Prober) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

func isDNSOrDial(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
