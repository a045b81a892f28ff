// Package alarm evaluates configured alarm conditions against incoming point
// values. Each alarm runs a small debounced state machine: Idle until the
// condition turns true, Pending until it has held for the configured delay,
// Active until it turns false or times out.
package alarm

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"scada-core/internal/globals"
	"scada-core/internal/history"
	"scada-core/internal/metrics"
	"scada-core/internal/model"
	"scada-core/internal/pointcache"
	"scada-core/internal/registry"
)

type phase int

const (
	phaseIdle phase = iota
	phasePending
	phaseActive
)

type alarmState struct {
	phase        phase
	pendingSince time.Time
	activatedAt  time.Time
}

type Engine struct {
	reg   *registry.Registry
	cache *pointcache.Cache
	store *history.Store
	vars  *globals.Store

	mu       sync.Mutex
	states   map[string]*alarmState        // by alarm id
	active   map[string]*model.ActiveAlarm // by alarm id
	lastSeen map[string]time.Time          // newest evaluated timestamp by point id
}

func NewEngine(reg *registry.Registry, cache *pointcache.Cache, store *history.Store, vars *globals.Store) *Engine {
	return &Engine{
		reg:    reg,
		cache:  cache,
		store:  store,
		vars:   vars,
		states:   make(map[string]*alarmState),
		active:   make(map[string]*model.ActiveAlarm),
		lastSeen: make(map[string]time.Time),
	}
}

// Evaluate runs every enabled alarm configured for the point against the new
// value. Called synchronously by the value pipeline on each accepted sample.
func (e *Engine) Evaluate(pointID string, value float64, now time.Time) {
	snap := e.reg.Current()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Concurrent writers to one point can hand their values off out of order
	// after releasing the cache entry lock; only the newest may drive the
	// state machines.
	if last, ok := e.lastSeen[pointID]; ok && !now.After(last) {
		return
	}
	e.lastSeen[pointID] = now

	for _, a := range snap.AlarmsByPoint[pointID] {
		if !a.Enabled {
			e.clearLocked(a, now, "alarm disabled")
			continue
		}
		e.step(snap, a, value, now)
	}
}

func (e *Engine) step(snap *registry.Snapshot, a *model.Alarm, value float64, now time.Time) {
	cond := compare(a, value)
	if !cond && a.HasExternal {
		cond = e.externalCondition(snap, a)
	}

	st, ok := e.states[a.ID]
	if !ok {
		st = &alarmState{}
		e.states[a.ID] = st
	}

	switch st.phase {
	case phaseIdle:
		if !cond {
			return
		}
		if a.Delay <= 0 {
			e.activateLocked(a, st, now)
			return
		}
		st.phase = phasePending
		st.pendingSince = now

	case phasePending:
		if !cond {
			st.phase = phaseIdle
			return
		}
		if now.Sub(st.pendingSince) >= a.Delay {
			e.activateLocked(a, st, now)
		}

	case phaseActive:
		timedOut := a.Timeout > 0 && now.Sub(st.activatedAt) >= a.Timeout
		if !cond || timedOut {
			e.deactivateLocked(a, st, now)
		}
	}
}

// externalCondition ORs in the enabled external alarms' digital matches.
func (e *Engine) externalCondition(snap *registry.Snapshot, a *model.Alarm) bool {
	for _, ext := range snap.ExternalsByAlarm[a.ID] {
		if !ext.Enabled {
			continue
		}
		v, ok := e.cache.Get(ext.PointID)
		if !ok {
			continue
		}
		if (v.Value != 0) == ext.MatchValue {
			return true
		}
	}
	return false
}

func compare(a *model.Alarm, value float64) bool {
	switch a.Compare {
	case model.CompareGreater:
		return value > a.Value1
	case model.CompareLess:
		return value < a.Value1
	case model.CompareEqual:
		return value == a.Value1
	case model.CompareNotEq:
		return value != a.Value1
	case model.CompareBetween:
		return value >= a.Value1 && value <= a.Value2
	case model.CompareOutside:
		return value < a.Value1 || value > a.Value2
	default:
		return false
	}
}

func (e *Engine) activateLocked(a *model.Alarm, st *alarmState, now time.Time) {
	st.phase = phaseActive
	st.activatedAt = now

	act := &model.ActiveAlarm{
		ID:          uuid.NewString(),
		AlarmID:     a.ID,
		PointID:     a.PointID,
		Priority:    a.Priority,
		ActivatedAt: now,
	}
	e.active[a.ID] = act

	e.appendEvent(a, now, true)

	log.Info().
		Str("alarm", a.ID).
		Str("point", a.PointID).
		Int("priority", a.Priority).
		Msg("Alarm activated")
	metrics.Gauge("alarm.active_count", float64(len(e.active)))
}

func (e *Engine) deactivateLocked(a *model.Alarm, st *alarmState, now time.Time) {
	st.phase = phaseIdle
	delete(e.active, a.ID)

	e.appendEvent(a, now, false)

	log.Info().
		Str("alarm", a.ID).
		Str("point", a.PointID).
		Msg("Alarm cleared")
	metrics.Gauge("alarm.active_count", float64(len(e.active)))
}

func (e *Engine) appendEvent(a *model.Alarm, now time.Time, active bool) {
	ev := model.AlarmEvent{
		ID:      uuid.NewString(),
		AlarmID: a.ID,
		PointID: a.PointID,
		At:      now,
		Active:  active,
		LogText: e.vars.Render(a.LogText),
	}
	if err := e.store.AppendAlarmEvent(ev); err != nil {
		log.Warn().Err(err).Str("alarm", a.ID).Msg("Failed to persist alarm event")
	}
}

// clearLocked removes any live activation for an alarm that is no longer
// eligible to be active (disabled or deleted).
func (e *Engine) clearLocked(a *model.Alarm, now time.Time, reason string) {
	st, ok := e.states[a.ID]
	if !ok || st.phase != phaseActive {
		if ok {
			st.phase = phaseIdle
		}
		return
	}
	log.Info().Str("alarm", a.ID).Str("reason", reason).Msg("Clearing active alarm")
	e.deactivateLocked(a, st, now)
}

// SyncDisabled clears activations for alarms the current snapshot no longer
// enables. Run by the supervisor after each configuration apply.
func (e *Engine) SyncDisabled(now time.Time) {
	snap := e.reg.Current()

	enabled := make(map[string]*model.Alarm)
	alarms := snap.Alarms()
	for i := range alarms {
		if alarms[i].Enabled {
			enabled[alarms[i].ID] = &alarms[i]
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for id, act := range e.active {
		if _, ok := enabled[id]; ok {
			continue
		}
		// Deleted alarms need a synthetic record to log the clear against.
		ghost := &model.Alarm{ID: id, PointID: act.PointID}
		st := e.states[id]
		if st == nil {
			st = &alarmState{phase: phaseActive, activatedAt: act.ActivatedAt}
			e.states[id] = st
		}
		log.Info().Str("alarm", id).Msg("Clearing alarm removed or disabled by config change")
		e.deactivateLocked(ghost, st, now)
	}

	for id := range e.states {
		if _, ok := enabled[id]; !ok {
			delete(e.states, id)
		}
	}
}

// ListActive returns the live activations, optionally filtered by point ids,
// highest priority first, ties broken by activation time.
func (e *Engine) ListActive(pointIDs ...string) []model.ActiveAlarm {
	filter := make(map[string]bool, len(pointIDs))
	for _, id := range pointIDs {
		filter[id] = true
	}

	e.mu.Lock()
	out := make([]model.ActiveAlarm, 0, len(e.active))
	for _, act := range e.active {
		if len(filter) > 0 && !filter[act.PointID] {
			continue
		}
		out = append(out, *act)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ActivatedAt.Before(out[j].ActivatedAt)
	})
	return out
}
