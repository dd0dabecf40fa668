package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/agent"
	"github.com/mtzanidakis/swarmbot/internal/registry"
	"github.com/mtzanidakis/swarmbot/internal/scheduler"
	"github.com/mtzanidakis/swarmbot/internal/swarm"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Agents
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("POST /api/agents", s.createAgent)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.deleteAgent)
	mux.HandleFunc("GET /api/agents/{id}/messages", s.getAgentMessages)
	mux.HandleFunc("GET /api/templates", s.listTemplates)

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.createTask)
	mux.HandleFunc("POST /api/tasks/batch", s.createTaskBatch)
	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/schedules", s.listSchedules)

	// Bus
	mux.HandleFunc("GET /api/messages", s.listMessages)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.registry.List()
	out := make([]agent.Snapshot, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Snapshot())
	}
	jsonResponse(w, out)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]any{
		"agent":   a.Snapshot(),
		"history": a.History(),
	})
}

type createAgentRequest struct {
	Template     string             `json:"template"`
	Type         string             `json:"type"`
	Name         string             `json:"name"`
	Role         string             `json:"role"`
	Capabilities []agent.Capability `json:"capabilities"`
	Settings     map[string]any     `json:"settings"`
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var body createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if (body.Template == "") == (body.Type == "") {
		jsonError(w, "exactly one of template or type is required", http.StatusBadRequest)
		return
	}

	params := registry.Params{
		Name:         body.Name,
		Capabilities: body.Capabilities,
		Settings:     body.Settings,
	}
	if body.Role != "" {
		role, err := agent.ParseRole(body.Role)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		params.Role = role
	}

	var (
		a   *agent.Agent
		err error
	)
	if body.Template != "" {
		a, err = s.registry.CreateFromTemplate(r.Context(), body.Template, params)
	} else {
		a, err = s.registry.Create(r.Context(), body.Type, params)
	}
	switch {
	case errors.Is(err, registry.ErrUnknownTemplate), errors.Is(err, registry.ErrUnknownAgentType):
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	jsonStatus(w, http.StatusCreated, a.Snapshot())
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Remove(r.PathValue("id")) {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "removed"})
}

func (s *Server) getAgentMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.GetMessages(r.PathValue("id"), queryInt(r, "limit", 100))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, messages)
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	names := s.registry.Stats().Templates
	out := make([]registry.Template, 0, len(names))
	for _, name := range names {
		if t, ok := s.registry.Template(name); ok {
			out = append(out, t)
		}
	}
	jsonResponse(w, out)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	status := swarm.TaskStatus(r.URL.Query().Get("status"))
	tasks := s.coord.Tasks()
	out := make([]*swarm.Task, 0, len(tasks))
	for _, t := range tasks {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	jsonResponse(w, out)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientKey(r)) {
		jsonError(w, "too many submissions", http.StatusTooManyRequests)
		return
	}

	var req swarm.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id, err := s.coord.Submit(r.Context(), req)
	if err != nil {
		jsonError(w, err.Error(), submitStatus(err))
		return
	}

	jsonStatus(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) createTaskBatch(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientKey(r)) {
		jsonError(w, "too many submissions", http.StatusTooManyRequests)
		return
	}

	var reqs []swarm.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(reqs) == 0 {
		jsonError(w, "batch is empty", http.StatusBadRequest)
		return
	}
	plan, err := s.coord.SubmitBatch(r.Context(), reqs)
	if err != nil {
		jsonError(w, err.Error(), submitStatus(err))
		return
	}

	jsonStatus(w, http.StatusAccepted, map[string]any{"tiers": plan.Tiers, "external": plan.External})
}

func submitStatus(err error) int {
	if errors.Is(err, swarm.ErrInvalidTask) || errors.Is(err, swarm.ErrDependencyCycle) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// getTask serves live tasks from the coordinator and falls back to the
// stored run for tasks from earlier processes.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if t, ok := s.coord.Task(id); ok {
		jsonResponse(w, t)
		return
	}

	run, err := s.store.GetTaskRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListTaskRuns(r.URL.Query().Get("status"), queryInt(r, "limit", 100))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, runs)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		jsonResponse(w, []any{})
		return
	}
	schedules, err := s.scheduler.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(schedules))
	for _, st := range schedules {
		entry := map[string]any{
			"name":         st.Name,
			"schedule":     scheduler.Describe(st.Schedule),
			"task_type":    st.TaskType,
			"status":       st.Status,
			"last_task_id": st.LastTaskID,
			"last_error":   st.LastError,
		}
		if st.NextRunAt != nil {
			entry["next_run_at"] = st.NextRunAt.UTC()
		}
		if st.LastRunAt != nil {
			entry["last_run_at"] = st.LastRunAt.UTC()
		}
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.router.History(queryInt(r, "limit", 50)))
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.GetRunStats()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	natsStatus := "disabled"
	if s.bus != nil {
		natsStatus = "ok"
	}

	jsonResponse(w, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime":    formatUptime(time.Since(s.startedAt)),
		"swarm":     s.coord.Status(),
		"registry":  s.registry.Stats(),
		"runs":      runs,
		"nats":      natsStatus,
		"ws":        s.hub.Clients(),
		"timestamp": time.Now().UTC(),
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	jsonStatus(w, http.StatusOK, data)
}

func jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	jsonStatus(w, code, map[string]string{"error": msg})
}
