// Package speedtest measures link throughput against speedtest.net servers.
package speedtest

import "time"

// Result is one measurement averaged over the fully tested servers.
type Result struct {
	Timestamp     time.Time     `json:"timestamp"`
	DownloadMbps  float64       `json:"download_mbps"`
	UploadMbps    float64       `json:"upload_mbps"`
	PingMs        float64       `json:"ping_ms"`
	JitterMs      float64       `json:"jitter_ms"`
	PacketLoss    float64       `json:"packet_loss"`
	ISP           string        `json:"isp"`
	ServerName    string        `json:"server_name"`
	ServerCountry string        `json:"server_country"`
	Duration      time.Duration `json:"duration"`
	Servers       int           `json:"servers"`
}

// Config controls one run. Zero values pick the defaults noted per field.
type Config struct {
	// ServerCount is how many of the nearest servers get pinged (5).
	ServerCount int `json:"server_count"`
	// FullTestServers is how many of the lowest-latency servers get a
	// download and upload test, run one after another (1).
	FullTestServers int `json:"full_test_servers"`
	// MaxConnections is the per-test connection count (4).
	MaxConnections int  `json:"max_connections"`
	SavingMode     bool `json:"saving_mode"`
	// PingConcurrency caps concurrent latency probes (4).
	PingConcurrency int `json:"ping_concurrency"`
	// PacketLoss enables a short packet loss probe of the chosen server.
	PacketLoss        bool          `json:"packet_loss"`
	PacketLossTimeout time.Duration `json:"packet_loss_timeout"`
}

func (c Config) withDefaults() Config {
	if c.ServerCount <= 0 {
		c.ServerCount = 5
	}
	if c.FullTestServers <= 0 {
		c.FullTestServers = 1
	}
	c.FullTestServers = min(c.FullTestServers, c.ServerCount)
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	if c.PingConcurrency <= 0 {
		c.PingConcurrency = 4
	}
	if c.PacketLossTimeout <= 0 {
		c.PacketLossTimeout = 3 * time.Second
	}
	return c
}
