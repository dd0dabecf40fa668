package config

import (
	"reflect"
	"sort"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	TemplatesAdded   []string
	TemplatesChanged []string
	TemplatesRemoved []string

	SchedulesChanged bool
	NewSchedules     map[string]ScheduleConfig

	SwarmChanged bool
	NewSwarm     SwarmConfig

	SchedulerChanged bool
	NewScheduler     SchedulerConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.TemplatesAdded) > 0 ||
		len(d.TemplatesChanged) > 0 ||
		len(d.TemplatesRemoved) > 0 ||
		d.SchedulesChanged ||
		d.SwarmChanged ||
		d.SchedulerChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	for name, newTpl := range new.Templates {
		oldTpl, ok := old.Templates[name]
		switch {
		case !ok:
			d.TemplatesAdded = append(d.TemplatesAdded, name)
		case !reflect.DeepEqual(oldTpl, newTpl):
			d.TemplatesChanged = append(d.TemplatesChanged, name)
		}
	}
	for name := range old.Templates {
		if _, ok := new.Templates[name]; !ok {
			d.TemplatesRemoved = append(d.TemplatesRemoved, name)
		}
	}
	sort.Strings(d.TemplatesAdded)
	sort.Strings(d.TemplatesChanged)
	sort.Strings(d.TemplatesRemoved)

	if !reflect.DeepEqual(old.Schedules, new.Schedules) {
		d.SchedulesChanged = true
		d.NewSchedules = new.Schedules
	}

	if old.Swarm != new.Swarm {
		d.SwarmChanged = true
		d.NewSwarm = new.Swarm
	}

	if old.Scheduler != new.Scheduler {
		d.SchedulerChanged = true
		d.NewScheduler = new.Scheduler
	}

	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS != new.NATS {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Bus != new.Bus {
		d.NonReloadable = append(d.NonReloadable, "bus")
	}
	if !reflect.DeepEqual(old.Agents, new.Agents) {
		d.NonReloadable = append(d.NonReloadable, "agents")
	}

	return d
}
