package http

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"cutpro/internal/core"
	applog "cutpro/internal/log"
)

type (
	indexView struct {
		Anonymous  bool
		Categories []string
	}

	overviewView struct {
		Summary core.Summary
	}

	transactionsView struct {
		Transactions []core.Transaction
	}

	goalRow struct {
		Goal    core.Goal
		Percent float64
	}

	goalsView struct {
		Goals []goalRow
	}

	achievementRow struct {
		Title       string
		Description string
		XPReward    int64
		Unlocked    bool
		UnlockedAt  time.Time
	}

	achievementsView struct {
		Rows     []achievementRow
		XP       int64
		Level    int64
		Unlocked int
	}
)

// summaryJSON is the /api/summary payload. Amounts are in cents.
type summaryJSON struct {
	OwnerID            string         `json:"owner_id"`
	Anonymous          bool           `json:"anonymous"`
	TotalIncomeCents   int64          `json:"total_income_cents"`
	TotalExpensesCents int64          `json:"total_expenses_cents"`
	BalanceCents       int64          `json:"balance_cents"`
	Balance            string         `json:"balance"`
	XP                 int64          `json:"xp"`
	Level              int64          `json:"level"`
	XPProgress         float64        `json:"xp_progress"`
	NextLevelXP        int64          `json:"next_level_xp"`
	ExpensesByCategory []categoryJSON `json:"expenses_by_category"`
	Transactions       int            `json:"transactions"`
	Goals              int            `json:"goals"`
	Achievements       int            `json:"achievements"`
}

type categoryJSON struct {
	Name        string  `json:"name"`
	AmountCents int64   `json:"amount_cents"`
	Share       float64 `json:"share"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.metrics.started).Round(time.Second).String(),
	})
}

// handleReady checks templates and the storage backend.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			checks["storage"] = fmt.Sprintf("failed: %v", err)
			status, httpStatus = "not_ready", http.StatusServiceUnavailable
		} else {
			checks["storage"] = "ok"
		}
	}

	checks["cache"] = map[string]interface{}{"entries": s.summaries.Stats().Size}
	checks["rate_limiter"] = map[string]interface{}{"active_clients": s.rateLimiter.ActiveClients()}

	writeJSON(w, httpStatus, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	traceMetrics := s.tracer.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	securityMetrics := s.detector.GetMetrics()
	cacheStats := s.summaries.Stats()

	metrics := []struct {
		name, help, kind string
		value            int64
	}{
		{"http_requests_total", "Total number of HTTP requests", "counter", traceMetrics.TotalRequests},
		{"http_request_duration_avg_microseconds", "Average request duration", "gauge", traceMetrics.AverageResponseTime},
		{"transactions_recorded_total", "Transactions recorded by this process", "counter", s.metrics.transactions.Load()},
		{"goals_created_total", "Goals created by this process", "counter", s.metrics.goals.Load()},
		{"achievements_unlocked_total", "Achievements unlocked by this process", "counter", s.metrics.unlocks.Load()},
		{"summary_cache_hits_total", "Summary cache hits", "counter", int64(cacheStats.Hits)},
		{"summary_cache_misses_total", "Summary cache misses", "counter", int64(cacheStats.Misses)},
		{"summary_cache_entries", "Current summary cache entries", "gauge", int64(cacheStats.Size)},
		{"rate_limit_hits_total", "Requests rejected by the rate limiter", "counter", rateLimitMetrics.TotalHits},
		{"active_rate_limit_clients", "Currently tracked rate limit clients", "gauge", rateLimitMetrics.ClientCount},
		{"suspicious_requests_total", "Suspicious requests detected", "counter", securityMetrics.SuspiciousRequests},
		{"uptime_seconds", "Process uptime in seconds", "gauge", int64(time.Since(s.metrics.started).Seconds())},
	}

	w.WriteHeader(http.StatusOK)
	for _, m := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n\n", m.name, m.help, m.name, m.kind, m.name, m.value)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Templates not loaded",
			applog.FieldPath, r.URL.Path,
			applog.FieldComponent, applog.ComponentTemplate,
			"error_type", applog.ErrorTypeConfiguration)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	id := s.identities.resolve(w, r)
	data := indexView{
		Anonymous:  id.IsAnonymous(),
		Categories: s.listCategories(r.Context()),
	}
	s.render(w, r, "index.html", data)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	id := s.identities.resolve(w, r)
	sum, err := s.getSummary(r.Context(), id)
	if err != nil {
		s.renderPartialError(w, r, "overview", err)
		return
	}
	s.render(w, r, "overview.html", overviewView{Summary: sum})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	id := s.identities.resolve(w, r)
	sess, err := s.svc.LoadSession(r.Context(), id)
	if err != nil {
		s.renderPartialError(w, r, "transactions", err)
		return
	}
	s.render(w, r, "transactions.html", transactionsView{Transactions: sess.Transactions})
}

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	id := s.identities.resolve(w, r)
	sess, err := s.svc.LoadSession(r.Context(), id)
	if err != nil {
		s.renderPartialError(w, r, "goals", err)
		return
	}
	rows := make([]goalRow, 0, len(sess.Goals))
	for _, g := range sess.Goals {
		rows = append(rows, goalRow{Goal: g, Percent: core.GoalProgressPercent(g)})
	}
	s.render(w, r, "goals.html", goalsView{Goals: rows})
}

// handleAchievements lists the known catalog with lock state, followed by any
// held title the catalog does not know.
func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	id := s.identities.resolve(w, r)
	sess, err := s.svc.LoadSession(r.Context(), id)
	if err != nil {
		s.renderPartialError(w, r, "achievements", err)
		return
	}

	held := make(map[string]core.Achievement, len(sess.Achievements))
	for _, a := range sess.Achievements {
		held[a.Title] = a
	}
	view := achievementsView{XP: sess.Profile.XP, Level: sess.Profile.Level, Unlocked: len(sess.Achievements)}
	for _, def := range core.Catalog() {
		row := achievementRow{Title: def.Title, Description: def.Description, XPReward: def.XPReward}
		if a, ok := held[def.Title]; ok {
			row.Unlocked, row.UnlockedAt = true, a.UnlockedAt
			delete(held, def.Title)
		}
		view.Rows = append(view.Rows, row)
	}
	for _, a := range sess.Achievements {
		if _, ok := held[a.Title]; ok {
			view.Rows = append(view.Rows, achievementRow{
				Title: a.Title, Description: a.Description, XPReward: a.XPReward,
				Unlocked: true, UnlockedAt: a.UnlockedAt,
			})
		}
	}
	s.render(w, r, "achievements.html", view)
}

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := s.identities.resolve(w, r)

	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		s.writeBadRequest(w, r, p, err)
		return
	}

	in, err := parseTransactionInput(p, time.Now())
	if err != nil {
		s.writeError(w, r, p, id.OwnerID, applog.OpValidate, err)
		return
	}
	res, err := s.svc.RecordTransaction(ctx, id.OwnerID, in)
	if err != nil {
		s.writeError(w, r, p, id.OwnerID, applog.OpRecord, err)
		return
	}

	s.summaries.Invalidate(id.OwnerID)
	s.metrics.transactions.Add(1)
	s.metrics.unlocks.Add(int64(len(res.Unlocked)))

	if p.IsJSON() {
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id":       res.Transaction.ID,
			"balance":  res.Profile.TotalSaved.Cents,
			"xp":       res.Profile.XP,
			"level":    res.Profile.Level,
			"unlocked": unlockedTitles(res.Unlocked),
		})
		return
	}

	t := res.Transaction
	msg := kindLabel(t.Kind) + " de " + formatMoney(t.Amount) + " registrada em " + t.Category
	NewHTMXResponse().
		TriggerTransactionRecorded(t).
		TriggerFormReset().
		TriggerOverviewRefresh().
		TriggerSuccessNotification(msg).
		TriggerAchievementUnlocked(res.Unlocked...).
		BodyHTML(`<div class="success">` + template.HTMLEscapeString(msg) + `</div>`).
		Write(w)
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := s.identities.resolve(w, r)

	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		s.writeBadRequest(w, r, p, err)
		return
	}

	in, err := parseGoalInput(p)
	if err != nil {
		s.writeError(w, r, p, id.OwnerID, applog.OpValidate, err)
		return
	}
	res, err := s.svc.CreateGoal(ctx, id.OwnerID, in)
	if err != nil {
		s.writeError(w, r, p, id.OwnerID, applog.OpCreate, err)
		return
	}

	s.summaries.Invalidate(id.OwnerID)
	s.metrics.goals.Add(1)
	s.metrics.unlocks.Add(int64(len(res.Unlocked)))

	if p.IsJSON() {
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id":       res.Goal.ID,
			"xp":       res.Profile.XP,
			"level":    res.Profile.Level,
			"unlocked": unlockedTitles(res.Unlocked),
		})
		return
	}

	msg := "Meta \"" + res.Goal.Name + "\" criada: " + formatMoney(res.Goal.TargetAmount)
	NewHTMXResponse().
		TriggerGoalCreated(res.Goal).
		TriggerFormReset().
		TriggerOverviewRefresh().
		TriggerSuccessNotification(msg).
		TriggerAchievementUnlocked(res.Unlocked...).
		BodyHTML(`<div class="success">` + template.HTMLEscapeString(msg) + `</div>`).
		Write(w)
}

func (s *Server) handleAPISummary(w http.ResponseWriter, r *http.Request) {
	id := s.identities.resolve(w, r)
	sum, err := s.getSummary(r.Context(), id)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Summary error",
			applog.FieldOwnerID, id.OwnerID, applog.FieldError, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "summary unavailable"})
		return
	}

	out := summaryJSON{
		OwnerID:            id.OwnerID,
		Anonymous:          id.IsAnonymous(),
		TotalIncomeCents:   sum.TotalIncome.Cents,
		TotalExpensesCents: sum.TotalExpenses.Cents,
		BalanceCents:       sum.Balance.Cents,
		Balance:            formatMoney(sum.Balance),
		XP:                 sum.XP,
		Level:              sum.Level,
		XPProgress:         sum.XPProgress,
		NextLevelXP:        sum.NextLevelXP,
		ExpensesByCategory: make([]categoryJSON, 0, len(sum.ExpensesByCategory)),
		Transactions:       sum.TransactionCount,
		Goals:              sum.GoalCount,
		Achievements:       sum.AchievementCount,
	}
	for _, c := range sum.ExpensesByCategory {
		out.ExpensesByCategory = append(out.ExpensesByCategory, categoryJSON{Name: c.Name, AmountCents: c.Amount.Cents, Share: c.Share})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSummary(ctx context.Context, id core.Identity) (core.Summary, error) {
	if sum, ok := s.summaries.Get(id.OwnerID); ok {
		applog.FromContext(ctx).WithComponent(applog.ComponentCache).DebugContext(ctx, "Summary cache hit", applog.FieldOwnerID, id.OwnerID)
		return sum, nil
	}
	epoch := s.summaries.Epoch()
	sum, err := s.svc.Summary(ctx, id)
	if err != nil {
		return core.Summary{}, err
	}
	s.summaries.SetIfCurrent(id.OwnerID, epoch, sum)
	return sum, nil
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	if s.templates == nil {
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			applog.FieldError, err,
			applog.FieldComponent, applog.ComponentTemplate,
			applog.FieldOperation, applog.OpRender,
			"template", name)
	}
}

// renderPartialError keeps the tab usable: the placeholder replaces the tab
// body and the user can retry by switching tabs.
func (s *Server) renderPartialError(w http.ResponseWriter, r *http.Request, section string, err error) {
	applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to load section",
		"section", section, applog.FieldError, err, applog.FieldOperation, applog.OpRead)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<section id="` + section + `" class="tab-panel"><div class="placeholder">Erro ao carregar. Tente novamente.</div></section>`))
}

func (s *Server) writeBadRequest(w http.ResponseWriter, r *http.Request, p *RequestBodyParser, err error) {
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Parse body error",
		applog.FieldError, err, applog.FieldMethod, r.Method, applog.FieldPath, r.URL.Path)
	const msg = "Formato de requisição inválido"
	if p.IsJSON() || isJSONRequest(r) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}
	BadRequestError(msg).TriggerErrorNotification(msg).Write(w)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, p *RequestBodyParser, ownerID, op string, err error) {
	ctx := r.Context()
	status, msg := classifyError(err)
	logger := applog.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		applog.NewStructuredLogger(logger).LogError(ctx, "Mutation failed", err, applog.ComponentHTTP, op,
			applog.NewFields().WithOwner(ownerID).WithHTTPRequest(r.Method, r.URL.Path, "", "", ""))
	} else {
		logger.WarnContext(ctx, "Rejected input",
			applog.FieldOwnerID, ownerID,
			applog.FieldOperation, op,
			applog.FieldError, err,
			"error_type", applog.ErrorTypeValidation)
	}

	if p.IsJSON() {
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	ErrorResponse(status, msg).TriggerErrorNotification(msg).Write(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func isJSONRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func unlockedTitles(as []core.Achievement) []string {
	titles := make([]string, 0, len(as))
	for _, a := range as {
		titles = append(titles, a.Title)
	}
	return titles
}
