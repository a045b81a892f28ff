package registry

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"scada-core/internal/faults"
	"scada-core/internal/model"
)

// Config is the full configuration set handed over by the storage
// collaborator on every change.
type Config struct {
	Points      []model.MonitoringPoint `json:"points"`
	Alarms      []model.Alarm           `json:"alarms"`
	Externals   []model.ExternalAlarm   `json:"externals"`
	Controllers []model.PidController   `json:"controllers"`
	Mappings    []model.RegisterMapping `json:"mappings"`
	Variables   []model.GlobalVariable  `json:"variables"`
}

// Snapshot is an immutable view of the applied configuration plus the derived
// lookup indexes the engines use on every tick. Never mutated after Apply.
type Snapshot struct {
	Version uint64

	Points      map[string]*model.MonitoringPoint
	Controllers map[string]*model.PidController
	Variables   map[string]*model.GlobalVariable

	AlarmsByPoint    map[string][]*model.Alarm
	ExternalsByAlarm map[string][]*model.ExternalAlarm
	ReadsByDevice    map[string][]*model.RegisterMapping
	WritesByPoint    map[string][]*model.RegisterMapping

	alarms []model.Alarm
}

// Alarms returns every configured alarm, enabled or not.
func (s *Snapshot) Alarms() []model.Alarm {
	return s.alarms
}

// Registry holds the current snapshot behind an atomic pointer so tick paths
// read it without locking.
type Registry struct {
	current atomic.Pointer[Snapshot]

	mu      sync.Mutex // serializes Apply
	version uint64

	watch chan struct{}
}

func New() *Registry {
	r := &Registry{watch: make(chan struct{}, 1)}
	r.current.Store(emptySnapshot())
	return r
}

func emptySnapshot() *Snapshot {
	return buildSnapshot(0, Config{})
}

// Current returns the live snapshot. Safe for concurrent use; callers must
// not mutate it.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Watch delivers a coalesced notification after each successful Apply.
func (r *Registry) Watch() <-chan struct{} {
	return r.watch
}

// Apply validates cfg and atomically replaces the snapshot. On validation
// failure the previous snapshot stays live and no notification fires. All
// configuration problems are collected and reported together.
func (r *Registry) Apply(cfg Config) error {
	if err := validate(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	r.version++
	snap := buildSnapshot(r.version, cfg)
	r.current.Store(snap)
	r.mu.Unlock()

	select {
	case r.watch <- struct{}{}:
	default:
	}
	return nil
}

func buildSnapshot(version uint64, cfg Config) *Snapshot {
	s := &Snapshot{
		Version:          version,
		Points:           make(map[string]*model.MonitoringPoint, len(cfg.Points)),
		Controllers:      make(map[string]*model.PidController, len(cfg.Controllers)),
		Variables:        make(map[string]*model.GlobalVariable, len(cfg.Variables)),
		AlarmsByPoint:    make(map[string][]*model.Alarm),
		ExternalsByAlarm: make(map[string][]*model.ExternalAlarm),
		ReadsByDevice:    make(map[string][]*model.RegisterMapping),
		WritesByPoint:    make(map[string][]*model.RegisterMapping),
		alarms:           append([]model.Alarm(nil), cfg.Alarms...),
	}

	for i := range cfg.Points {
		p := cfg.Points[i]
		s.Points[p.ID] = &p
	}
	for i := range cfg.Controllers {
		c := cfg.Controllers[i]
		s.Controllers[c.ID] = &c
	}
	for i := range cfg.Variables {
		v := cfg.Variables[i]
		s.Variables[v.Name] = &v
	}
	for i := range s.alarms {
		a := &s.alarms[i]
		s.AlarmsByPoint[a.PointID] = append(s.AlarmsByPoint[a.PointID], a)
	}
	for i := range cfg.Externals {
		e := cfg.Externals[i]
		s.ExternalsByAlarm[e.AlarmID] = append(s.ExternalsByAlarm[e.AlarmID], &e)
	}
	for i := range cfg.Mappings {
		m := cfg.Mappings[i]
		switch m.Direction {
		case model.DirectionRead:
			s.ReadsByDevice[m.DeviceID] = append(s.ReadsByDevice[m.DeviceID], &m)
		case model.DirectionWrite:
			s.WritesByPoint[m.PointID] = append(s.WritesByPoint[m.PointID], &m)
		}
	}
	return s
}

func validate(cfg Config) error {
	var problems []string

	addrSeen := map[string]string{} // device/address -> point id
	for _, p := range cfg.Points {
		if p.Scalable && p.RawMin == p.RawMax {
			problems = append(problems, faults.Config("point "+p.ID, "raw_range", "zero-width raw range").Error())
		}
		if p.Aggregation == model.AggAverage && p.SampleCount <= 0 {
			problems = append(problems, faults.Config("point "+p.ID, "sample_count", "must be > 0 for averaged points").Error())
		}
		if !p.Enabled {
			continue
		}
		key := fmt.Sprintf("%s/%d", p.DeviceID, p.Address)
		if other, ok := addrSeen[key]; ok {
			problems = append(problems, faults.Config("point "+p.ID, "address",
				fmt.Sprintf("address %d on device %s already used by point %s", p.Address, p.DeviceID, other)).Error())
		} else {
			addrSeen[key] = p.ID
		}
	}

	alarmIDs := map[string]bool{}
	for _, a := range cfg.Alarms {
		alarmIDs[a.ID] = true
		if a.Delay < 0 {
			problems = append(problems, faults.Config("alarm "+a.ID, "delay", "must be >= 0").Error())
		}
	}
	for _, e := range cfg.Externals {
		if !alarmIDs[e.AlarmID] {
			problems = append(problems, faults.Config("external_alarm "+e.ID, "alarm_id",
				"references missing alarm "+e.AlarmID).Error())
		}
	}

	for _, c := range cfg.Controllers {
		if c.OutputMin > c.OutputMax {
			problems = append(problems, faults.Config("controller "+c.ID, "output_bounds", "min exceeds max").Error())
		}
		if c.Interval <= 0 {
			problems = append(problems, faults.Config("controller "+c.ID, "interval", "must be > 0").Error())
		}
	}

	mapSeen := map[string]string{}
	for _, m := range cfg.Mappings {
		bit := -1
		if m.BitOffset != nil {
			bit = *m.BitOffset
		}
		key := fmt.Sprintf("%s/%d/%d/%s", m.DeviceID, m.ByteOffset, bit, m.Direction)
		if other, ok := mapSeen[key]; ok {
			problems = append(problems, faults.Config("mapping "+m.ID, "location",
				"duplicates mapping "+other).Error())
		} else {
			mapSeen[key] = m.ID
		}
	}

	nameSeen := map[string]string{}
	for _, v := range cfg.Variables {
		if other, ok := nameSeen[v.Name]; ok {
			problems = append(problems, faults.Config("variable "+v.ID, "name",
				"name "+v.Name+" already used by variable "+other).Error())
		} else {
			nameSeen[v.Name] = v.ID
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config rejected: %s", strings.Join(problems, "; "))
	}
	return nil
}
