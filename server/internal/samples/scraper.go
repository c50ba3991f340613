package samples

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/alertengine/pkg/types"
)

const defaultScrapeTimeout = 10 * time.Second

// Auth holds resolved credentials for a scrape target.
type Auth struct {
	Mode     string // none | apikey | bearer | basic
	Header   string
	Key      string
	Token    string
	Username string
	Password string
}

// Target is one Prometheus endpoint feeding a workspace.
type Target struct {
	Workspace string
	URL       string
	// Metrics lists the families to record. Empty records every family.
	Metrics []string
	Auth    Auth
}

// Scraper polls targets and appends their values to a Buffer.
type Scraper struct {
	buf     *Buffer
	targets []Target
	client  *http.Client
	now     func() time.Time
}

// NewScraper returns a Scraper writing into buf. All targets share one
// client; per-target credentials are injected per request.
func NewScraper(buf *Buffer, targets []Target) *Scraper {
	return &Scraper{
		buf:     buf,
		targets: targets,
		client:  &http.Client{Timeout: defaultScrapeTimeout},
		now:     time.Now,
	}
}

// Run scrapes every target each interval until ctx is cancelled, and evicts
// samples past the buffer's retention after each round.
func (s *Scraper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		s.ScrapeAll(ctx)
		if n := s.buf.Evict(s.now()); n > 0 {
			slog.Debug("samples: evicted old samples", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// ScrapeAll scrapes each target once. Failures are logged per target.
func (s *Scraper) ScrapeAll(ctx context.Context) {
	for _, tgt := range s.targets {
		n, err := s.Scrape(ctx, tgt)
		if err != nil {
			slog.Warn("samples: scrape failed", "workspace", tgt.Workspace, "url", tgt.URL, "err", err)
			continue
		}
		slog.Debug("samples: scraped", "workspace", tgt.Workspace, "url", tgt.URL, "metrics", n)
	}
}

// Scrape fetches one target and appends one sample per recorded family.
// It returns the number of samples appended.
func (s *Scraper) Scrape(ctx context.Context, tgt Target) (int, error) {
	mfs, err := s.fetchMetrics(ctx, tgt)
	if err != nil {
		return 0, err
	}
	at := s.now().UTC()

	names := tgt.Metrics
	if len(names) == 0 {
		names = make([]string, 0, len(mfs))
		for name := range mfs {
			names = append(names, name)
		}
	}
	n := 0
	for _, name := range names {
		mf, ok := mfs[name]
		if !ok {
			continue
		}
		s.buf.Append(tgt.Workspace, name, types.Sample{Timestamp: at, Value: sumFamily(mf)})
		n++
	}
	return n, nil
}

// fetchMetrics performs an HTTP GET to the target and returns parsed metric
// families.
func (s *Scraper) fetchMetrics(ctx context.Context, tgt Target) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tgt.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	applyAuth(req, tgt.Auth)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

func applyAuth(req *http.Request, a Auth) {
	switch a.Mode {
	case "apikey":
		req.Header.Set(a.Header, a.Key)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case "basic":
		req.SetBasicAuth(a.Username, a.Password)
	}
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
