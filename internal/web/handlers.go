package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/campaignflow/internal/continuity"
	"github.com/lucasnoah/campaignflow/internal/db"
	"github.com/lucasnoah/campaignflow/internal/orchestrator"
)

// DashboardData is passed to dashboard.html.
type DashboardData struct {
	Campaigns []orchestrator.StatusInfo
}

// CampaignData is passed to campaign.html.
type CampaignData struct {
	Status  *orchestrator.StatusInfo
	Audit   *continuity.Report
	History []db.PipelineEvent
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

// writeError maps orchestrator errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, orchestrator.ErrNotStarted) {
		status = http.StatusNotFound
	} else {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	infos, err := s.campaigns.StatusAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.dashboardTmpl.ExecuteTemplate(w, "base", DashboardData{Campaigns: infos}); err != nil {
		s.logger.Error("render dashboard", zap.Error(err))
	}
}

func (s *Server) handleCampaignPage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.campaigns.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	audit, err := s.campaigns.Audit(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data := CampaignData{Status: status, Audit: audit}
	if s.history != nil {
		if data.History, err = s.history.GetPipelineHistory(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.campaignTmpl.ExecuteTemplate(w, "base", data); err != nil {
		s.logger.Error("render campaign", zap.String("campaign", id), zap.Error(err))
	}
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	infos, err := s.campaigns.StatusAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if infos == nil {
		infos = []orchestrator.StatusInfo{}
	}
	s.writeJSON(w, infos)
}

func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	info, err := s.campaigns.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, info)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.campaigns.Audit(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, report)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "storage backend keeps no event history", http.StatusNotImplemented)
		return
	}
	events, err := s.history.GetPipelineHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []db.PipelineEvent{}
	}
	s.writeJSON(w, events)
}

// relTime formats a stored timestamp relative to now.
func relTime(ts string) string {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}
	var t time.Time
	for _, f := range formats {
		if parsed, err := time.Parse(f, ts); err == nil {
			t = parsed
			break
		}
	}
	if t.IsZero() {
		return ts
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
