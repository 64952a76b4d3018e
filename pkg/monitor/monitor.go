package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ldd69/anvil/pkg/controller"
	"github.com/ldd69/anvil/pkg/runstate"
)

// Status is the snapshot served at /status.
type Status struct {
	Session        string          `json:"session"`
	RunDir         string          `json:"runDir"`
	State          string          `json:"state"`
	Epochs         int             `json:"epochs"`
	TrainTime      int             `json:"trainTime"`
	LastAcceptance float64         `json:"lastAcceptance"`
	Target         float64         `json:"target"`
	Iterations     int             `json:"iterations"`
	Running        *InvocationData `json:"running,omitempty"`
	Last           *IterationData  `json:"last,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Monitor turns loop events into hub broadcasts and keeps the latest
// status. It implements controller.Observer.
type Monitor struct {
	hub *Hub

	mu     sync.RWMutex
	status Status
}

var _ controller.Observer = (*Monitor)(nil)

// New creates a Monitor publishing to hub. hub may be nil when only the
// status endpoint is wanted.
func New(hub *Hub, session, runDir string, target float64) *Monitor {
	return &Monitor{
		hub: hub,
		status: Status{
			Session:   session,
			RunDir:    runDir,
			Target:    target,
			UpdatedAt: time.Now().UTC(),
		},
	}
}

// Snapshot returns a copy of the current status.
func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	if s.Running != nil {
		r := *s.Running
		s.Running = &r
	}
	if s.Last != nil {
		l := *s.Last
		s.Last = &l
	}
	return s
}

func (m *Monitor) update(fn func(s *Status)) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.status)
	m.status.UpdatedAt = time.Now().UTC()
	return m.status
}

// StateChanged implements controller.Observer.
func (m *Monitor) StateChanged(state controller.State, rs runstate.RunState) {
	s := m.update(func(s *Status) {
		s.State = string(state)
		if state != controller.StateBootstrap {
			s.Epochs = rs.Epochs
			s.TrainTime = rs.TrainTime
			s.LastAcceptance = rs.LastAcceptance
		}
	})
	if m.hub != nil {
		m.hub.BroadcastState(&StateData{
			Session:        s.Session,
			State:          s.State,
			Epochs:         s.Epochs,
			TrainTime:      s.TrainTime,
			LastAcceptance: s.LastAcceptance,
		})
	}
}

// InvocationStarted implements controller.Observer.
func (m *Monitor) InvocationStarted(inv controller.Invocation) {
	m.update(func(s *Status) {
		s.Running = &InvocationData{
			Session:    s.Session,
			Kind:       inv.Kind,
			Executable: inv.Executable,
			Index:      inv.Index,
			Total:      inv.Total,
		}
	})
}

// InvocationFinished implements controller.Observer.
func (m *Monitor) InvocationFinished(inv controller.Invocation, err error) {
	data := &InvocationData{
		Kind:       inv.Kind,
		Executable: inv.Executable,
		Index:      inv.Index,
		Total:      inv.Total,
		DurationMS: inv.Duration.Milliseconds(),
	}
	if err != nil {
		data.Error = err.Error()
	}
	m.update(func(s *Status) {
		s.Running = nil
		data.Session = s.Session
	})
	if m.hub != nil {
		m.hub.BroadcastInvocation(data)
	}
}

// IterationRecorded implements controller.Observer.
func (m *Monitor) IterationRecorded(it controller.Iteration) {
	var data *IterationData
	m.update(func(s *Status) {
		data = &IterationData{
			Session:        s.Session,
			Number:         it.Number,
			Bootstrap:      it.Bootstrap,
			Epochs:         it.Record.Epochs,
			TrainTime:      it.Record.TrainTime,
			FinalLoss:      it.Record.FinalLoss,
			AcceptanceMean: it.Record.AcceptanceMean,
			AcceptanceStd:  it.Record.AcceptanceStd,
			TauintMean:     it.Record.TauintMean,
			TauintStd:      it.Record.TauintStd,
		}
		s.Last = data
		s.Epochs = it.Record.Epochs
		s.TrainTime = it.Record.TrainTime
		s.LastAcceptance = it.Record.AcceptanceMean
		if !it.Bootstrap {
			s.Iterations = it.Number
		}
	})
	if m.hub != nil {
		m.hub.BroadcastIteration(data)
	}
}

// ServeHTTP serves the status snapshot as JSON.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.Snapshot())
}
