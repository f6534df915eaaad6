package speedtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// Runner executes speedtests. Runs are serialized: a second Run waits for
// the first so two tests never compete for the same link.
type Runner struct {
	cfg Config
	mu  sync.Mutex
}

func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg.withDefaults()}
}

func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.cfg
	ctx, cancel := context.WithCancel(ctx)
	start := time.Now()

	hc, tr := newHTTPClient(cfg)
	// A private client instance; the package-level helpers share state.
	stc := st.New(
		st.WithUserConfig(&st.UserConfig{SavingMode: cfg.SavingMode, MaxConnections: cfg.MaxConnections}),
		st.WithDoer(hc),
	)
	stc.SetNThread(cfg.MaxConnections)
	defer func() {
		cancel()
		stc.Snapshots().Clean()
		stc.Reset()
		tr.CloseIdleConnections()
	}()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("speedtest: fetch user info: %w", err)
	}
	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("speedtest: fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, errors.New("speedtest: no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	candidates := servers[:min(cfg.ServerCount, len(servers))]

	pinged := pingAll(ctx, candidates, cfg.PingConcurrency)
	if len(pinged) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("speedtest: all latency tests failed")
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })

	var (
		measured []*st.Server
		sumDL    float64
		sumUL    float64
		sumPing  time.Duration
	)
	for _, s := range pinged[:min(cfg.FullTestServers, len(pinged))] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.DownloadTestContext(ctx); err != nil {
			continue
		}
		if err := s.UploadTestContext(ctx); err != nil {
			continue
		}
		measured = append(measured, s)
		sumDL += s.DLSpeed.Mbps()
		sumUL += s.ULSpeed.Mbps()
		sumPing += s.Latency
		stc.Snapshots().Clean()
	}
	if len(measured) == 0 {
		return nil, errors.New("speedtest: full test failed for all servers")
	}

	n := float64(len(measured))
	avgPing := sumPing / time.Duration(len(measured))
	best := measured[0]

	jitter := float64(best.Jitter.Milliseconds())
	if jitter <= 0 {
		jitter = math.Max(0.1, float64(avgPing.Milliseconds())*0.1)
	}

	res := &Result{
		Timestamp:     time.Now(),
		DownloadMbps:  sumDL / n,
		UploadMbps:    sumUL / n,
		PingMs:        float64(avgPing.Milliseconds()),
		JitterMs:      jitter,
		ISP:           user.Isp,
		ServerName:    best.Sponsor,
		ServerCountry: best.Country,
		Servers:       len(measured),
	}
	if cfg.PacketLoss {
		plCtx, plCancel := context.WithTimeout(ctx, cfg.PacketLossTimeout)
		res.PacketLoss = packetLoss(plCtx, best.Host)
		plCancel()
	}
	res.Duration = time.Since(start)
	return res, nil
}

func pingAll(ctx context.Context, servers []*st.Server, limit int) []*st.Server {
	sem := make(chan struct{}, max(limit, 1))
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out []*st.Server
	)
	for _, s := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()
			if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
				return
			}
			mu.Lock()
			out = append(out, s)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func packetLoss(ctx context.Context, host string) float64 {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return 0
	}
	pla := st.NewPacketLossAnalyzer(nil)
	pl, err := pla.RunMultiWithContext(ctx, []string{host})
	if err != nil || pl == nil {
		return 0
	}
	return pl.LossPercent()
}

// newHTTPClient builds a dedicated transport so its connections can be
// closed as soon as the run ends.
func newHTTPClient(cfg Config) (*http.Client, *http.Transport) {
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   max(cfg.MaxConnections, 2),
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: tr}, tr
}
