package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/mtzanidakis/swarmbot/internal/agent"
	"github.com/mtzanidakis/swarmbot/internal/config"
	"github.com/mtzanidakis/swarmbot/internal/natsbus"
	"github.com/mtzanidakis/swarmbot/internal/router"
	"github.com/mtzanidakis/swarmbot/internal/store"
	"golang.org/x/sync/errgroup"
)

// Factory builds the body for an agent of a registered type.
type Factory func(spec Spec) (agent.Processor, error)

type entry struct {
	agent    *agent.Agent
	typ      string
	template string
}

// Registry creates agents from types and templates and owns the live set.
type Registry struct {
	mu        sync.RWMutex
	types     map[string]Factory
	templates map[string]Template
	agents    map[string]*entry
	order     []string

	router    *router.Router
	store     *store.Store
	publisher router.Publisher
	agentCfg  config.AgentConfig
}

func New(r *router.Router, s *store.Store, cfg config.AgentConfig) *Registry {
	reg := &Registry{
		types:     make(map[string]Factory),
		templates: make(map[string]Template),
		agents:    make(map[string]*entry),
		router:    r,
		store:     s,
		agentCfg:  cfg,
	}
	for _, t := range DefaultTemplates() {
		reg.templates[t.Name] = t
	}
	return reg
}

func (r *Registry) SetPublisher(p router.Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publisher = p
}

func (r *Registry) RegisterType(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("register type: empty name")
	}
	if f == nil {
		return fmt.Errorf("register type %s: nil factory", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[name]; ok {
		return fmt.Errorf("register type %s: already registered", name)
	}
	r.types[name] = f
	return nil
}

func (r *Registry) RegisterTemplate(t Template) error {
	if t.Name == "" {
		return fmt.Errorf("register template: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[t.Name]; ok {
		return fmt.Errorf("register template %s: already registered", t.Name)
	}
	r.templates[t.Name] = t
	return nil
}

// PutTemplate adds or replaces a template. Used by config reload.
func (r *Registry) PutTemplate(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Name] = t
}

func (r *Registry) RemoveTemplate(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.templates[name]
	delete(r.templates, name)
	return ok
}

// LoadTemplates registers or replaces the templates declared in config.
func (r *Registry) LoadTemplates(tpls map[string]config.TemplateConfig) error {
	for name, tc := range tpls {
		t, err := TemplateFromConfig(name, tc)
		if err != nil {
			return err
		}
		r.PutTemplate(t)
	}
	return nil
}

func (r *Registry) CreateFromTemplate(ctx context.Context, name string, p Params) (*agent.Agent, error) {
	r.mu.RLock()
	t, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownTemplateError{Name: name}
	}
	return r.build(ctx, t.apply(p), p.ID)
}

func (r *Registry) Create(ctx context.Context, agentType string, p Params) (*agent.Agent, error) {
	spec := Spec{
		Type:         agentType,
		Name:         p.Name,
		Role:         p.Role,
		Capabilities: slices.Clone(p.Capabilities),
		Settings:     p.Settings,
	}
	return r.build(ctx, spec, p.ID)
}

func (r *Registry) build(ctx context.Context, spec Spec, id string) (*agent.Agent, error) {
	r.mu.RLock()
	factory, ok := r.types[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownAgentTypeError{Type: spec.Type}
	}

	body, err := factory(spec)
	if err != nil {
		return nil, fmt.Errorf("build %s body: %w", spec.Type, err)
	}

	a, err := agent.New(agent.Options{
		ID:                id,
		Name:              spec.Name,
		Role:              spec.Role,
		Capabilities:      spec.Capabilities,
		Processor:         body,
		Router:            r.router,
		HeartbeatInterval: r.agentCfg.HeartbeatInterval,
		MailboxSize:       r.agentCfg.MailboxSize,
		OnStatusChange:    r.statusChanged,
	})
	if err != nil {
		return nil, err
	}

	if err := r.add(ctx, a, spec.Type, spec.Template); err != nil {
		return nil, err
	}
	return a, nil
}

// Add registers an externally constructed agent and starts it.
func (r *Registry) Add(ctx context.Context, a *agent.Agent) error {
	return r.add(ctx, a, "", "")
}

func (r *Registry) add(ctx context.Context, a *agent.Agent, typ, template string) error {
	r.mu.Lock()
	if _, ok := r.agents[a.ID()]; ok {
		r.mu.Unlock()
		return fmt.Errorf("add agent %s: already registered", a.ID())
	}
	r.agents[a.ID()] = &entry{agent: a, typ: typ, template: template}
	r.order = append(r.order, a.ID())
	r.mu.Unlock()

	if r.router != nil {
		r.router.Register(a.ID(), a.Receive)
		if err := r.router.Subscribe(router.ChannelStatus, a.ID()); err != nil {
			slog.Warn("subscribe agent to status channel failed", "id", a.ID(), "error", err)
		}
	}
	// Agents outlive the request that created them.
	a.Start(context.WithoutCancel(ctx))

	if r.store != nil {
		caps, _ := json.Marshal(a.Capabilities())
		err := r.store.SaveAgent(&store.Agent{
			ID:           a.ID(),
			Name:         a.Name(),
			Role:         string(a.Role()),
			Type:         typ,
			Template:     template,
			Capabilities: caps,
			Status:       string(a.Status()),
		})
		if err != nil {
			slog.Warn("persist agent failed", "id", a.ID(), "error", err)
		}
	}

	r.publish(a.ID(), "agent_created", map[string]any{
		"name":     a.Name(),
		"role":     a.Role(),
		"type":     typ,
		"template": template,
	})
	slog.Info("agent created", "id", a.ID(), "name", a.Name(), "type", typ, "template", template)
	return nil
}

// TeamMember names either a template or a type plus overrides.
type TeamMember struct {
	Template string
	Type     string
	Params   Params
}

type TeamSpec struct {
	Coordinator *TeamMember
	Workers     []TeamMember
	Specialists []TeamMember
}

// CreateTeam creates the coordinator, then workers, then specialists. On
// error the agents created so far stay registered and are returned.
func (r *Registry) CreateTeam(ctx context.Context, team TeamSpec) ([]*agent.Agent, error) {
	var created []*agent.Agent
	add := func(m TeamMember, role agent.Role) error {
		if m.Params.Role == "" {
			m.Params.Role = role
		}
		a, err := r.createMember(ctx, m)
		if err != nil {
			return err
		}
		created = append(created, a)
		return nil
	}

	if team.Coordinator != nil {
		if err := add(*team.Coordinator, agent.RoleCoordinator); err != nil {
			return created, fmt.Errorf("create coordinator: %w", err)
		}
	}
	for i, m := range team.Workers {
		if err := add(m, agent.RoleWorker); err != nil {
			return created, fmt.Errorf("create worker %d: %w", i, err)
		}
	}
	for i, m := range team.Specialists {
		if err := add(m, agent.RoleSpecialist); err != nil {
			return created, fmt.Errorf("create specialist %d: %w", i, err)
		}
	}
	return created, nil
}

func (r *Registry) createMember(ctx context.Context, m TeamMember) (*agent.Agent, error) {
	if m.Template != "" {
		return r.CreateFromTemplate(ctx, m.Template, m.Params)
	}
	return r.Create(ctx, m.Type, m.Params)
}

// Spawn creates the agents declared in config. Count > 1 suffixes names
// with an index.
func (r *Registry) Spawn(ctx context.Context, specs []config.AgentSpec) ([]*agent.Agent, error) {
	var created []*agent.Agent
	for i, s := range specs {
		count := max(s.Count, 1)
		for n := range count {
			p := Params{
				Name:         s.Name,
				Capabilities: CapabilitiesFromConfig(s.Capabilities),
				Settings:     s.Params,
			}
			if s.Role != "" {
				role, err := agent.ParseRole(s.Role)
				if err != nil {
					return created, fmt.Errorf("agents[%d]: %w", i, err)
				}
				p.Role = role
			}
			if count > 1 && p.Name != "" {
				p.Name = fmt.Sprintf("%s-%d", p.Name, n+1)
			}

			a, err := r.createMember(ctx, TeamMember{Template: s.Template, Type: s.Type, Params: p})
			if err != nil {
				return created, fmt.Errorf("agents[%d]: %w", i, err)
			}
			created = append(created, a)
		}
	}
	return created, nil
}

// Remove stops and unregisters the agent. It reports whether an agent was
// removed; removing an unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.agents[id]
	if ok {
		delete(r.agents, id)
		r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.agent.Stop()
	if r.router != nil {
		r.router.Unregister(id)
	}
	if r.store != nil {
		if err := r.store.MarkAgentRemoved(id); err != nil {
			slog.Warn("mark agent removed failed", "id", id, "error", err)
		}
	}
	r.publish(id, "agent_removed", nil)
	slog.Info("agent removed", "id", id)
	return true
}

func (r *Registry) Get(id string) (*agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// List returns live agents in creation order.
func (r *Registry) List() []*agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*agent.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id].agent)
	}
	return out
}

func (r *Registry) QueryByCapability(name string) []*agent.Agent {
	var out []*agent.Agent
	for _, a := range r.List() {
		if slices.ContainsFunc(a.Capabilities(), func(c agent.Capability) bool { return c.Name == name }) {
			out = append(out, a)
		}
	}
	return out
}

func (r *Registry) QueryByRole(role agent.Role) []*agent.Agent {
	var out []*agent.Agent
	for _, a := range r.List() {
		if a.Role() == role {
			out = append(out, a)
		}
	}
	return out
}

type Stats struct {
	TotalAgents  int            `json:"total_agents"`
	ByRole       map[string]int `json:"agents_by_role"`
	ByCapability map[string]int `json:"agents_by_capability"`
	Types        []string       `json:"agent_types"`
	Templates    []string       `json:"templates"`
}

func (r *Registry) Stats() Stats {
	agents := r.List()
	s := Stats{
		TotalAgents:  len(agents),
		ByRole:       make(map[string]int),
		ByCapability: make(map[string]int),
	}
	for _, a := range agents {
		s.ByRole[string(a.Role())]++
		for _, c := range a.Capabilities() {
			s.ByCapability[c.Name]++
		}
	}

	r.mu.RLock()
	for name := range r.types {
		s.Types = append(s.Types, name)
	}
	for name := range r.templates {
		s.Templates = append(s.Templates, name)
	}
	r.mu.RUnlock()
	sort.Strings(s.Types)
	sort.Strings(s.Templates)
	return s
}

func (r *Registry) Template(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// StopAll stops every live agent in parallel. Agents stay registered.
func (r *Registry) StopAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, a := range r.List() {
		g.Go(func() error {
			a.Stop()
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("stop agents: %w", ctx.Err())
	}

	if r.store != nil {
		if err := r.store.MarkAllAgentsRemoved(); err != nil {
			return fmt.Errorf("mark agents removed: %w", err)
		}
	}
	return nil
}

func (r *Registry) statusChanged(a *agent.Agent, from, to agent.Status) {
	if r.store != nil {
		if err := r.store.UpdateAgentStatus(a.ID(), string(to)); err != nil {
			slog.Debug("update agent status failed", "id", a.ID(), "error", err)
		}
	}
	r.publish(a.ID(), "agent_status", map[string]any{"from": from, "to": to})
}

func (r *Registry) publish(agentID, eventType string, data map[string]any) {
	r.mu.RLock()
	p := r.publisher
	r.mu.RUnlock()
	if p == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["agent_id"] = agentID
	if err := p.PublishJSON(natsbus.TopicEventsAgent(agentID), natsbus.NewEvent(eventType, data)); err != nil {
		slog.Debug("publish agent event failed", "id", agentID, "error", err)
	}
}
