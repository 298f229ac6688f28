package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lucasnoah/campaignflow/internal/continuity"
	"github.com/lucasnoah/campaignflow/internal/db"
	"github.com/lucasnoah/campaignflow/internal/logging"
	"github.com/lucasnoah/campaignflow/internal/orchestrator"
	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

//go:embed templates
var templateFS embed.FS

var funcMap = template.FuncMap{
	"badgeClass": func(stage pipeline.Stage) string {
		return "badge badge-" + strings.ReplaceAll(string(stage), "_", "-")
	},
	"scoreClass": func(score int) string {
		switch {
		case score >= 90:
			return "score-good"
		case score >= 75:
			return "score-warn"
		}
		return "score-bad"
	},
	"relTime": relTime,
}

// Campaigns is the read side of the orchestrator the server needs.
type Campaigns interface {
	Status(ctx context.Context, campaign string) (*orchestrator.StatusInfo, error)
	StatusAll(ctx context.Context) ([]orchestrator.StatusInfo, error)
	Audit(ctx context.Context, campaign string) (*continuity.Report, error)
}

// History returns the pipeline events of a campaign, newest first. Both SQL
// stores implement it.
type History interface {
	GetPipelineHistory(ctx context.Context, campaign string) ([]db.PipelineEvent, error)
}

// Server is the read-only campaign dashboard and metrics endpoint.
type Server struct {
	campaigns Campaigns
	history   History // nil when the backend keeps no event log
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	addr      string

	dashboardTmpl *template.Template
	campaignTmpl  *template.Template
}

// NewServer creates a Server with parsed templates. gatherer may be nil, in
// which case /metrics is not served.
func NewServer(campaigns Campaigns, history History, gatherer prometheus.Gatherer, logger *zap.Logger, port int) *Server {
	return &Server{
		campaigns:     campaigns,
		history:       history,
		gatherer:      gatherer,
		logger:        logging.OrNop(logger),
		addr:          fmt.Sprintf(":%d", port),
		dashboardTmpl: mustParseTmpl("base.html", "dashboard.html"),
		campaignTmpl:  mustParseTmpl("base.html", "campaign.html"),
	}
}

func mustParseTmpl(names ...string) *template.Template {
	patterns := make([]string, len(names))
	for i, n := range names {
		patterns[i] = "templates/" + n
	}
	return template.Must(template.New("").Funcs(funcMap).ParseFS(templateFS, patterns...))
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /campaigns/{id}", s.handleCampaignPage)
	mux.HandleFunc("GET /api/campaigns", s.handleCampaigns)
	mux.HandleFunc("GET /api/campaigns/{id}", s.handleCampaign)
	mux.HandleFunc("GET /api/campaigns/{id}/audit", s.handleAudit)
	mux.HandleFunc("GET /api/campaigns/{id}/history", s.handleHistory)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("campaignflow UI listening", zap.String("url", "http://localhost"+s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
