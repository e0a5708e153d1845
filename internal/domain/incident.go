package domain

import "sort"

// Incident correlates the events of one track at one home within the
// correlation window.
type Incident struct {
	ID              uint64   `json:"id"`
	HomeID          string   `json:"homeId"`
	Track           string   `json:"track"`
	StartedAt       float64  `json:"startedAt"`
	LastUpdated     float64  `json:"lastUpdated"`
	Events          []Event  `json:"events"`
	Cameras         []string `json:"cameras"`
	Evidence        Evidence `json:"evidence"`
	SuppressedCount int      `json:"suppressedCount"`
	Ledger          Ledger   `json:"ledger"`
}

// Ledger is the identity explain-away state carried by an incident.
type Ledger struct {
	Resolved      bool    `json:"resolved"`
	Identity      string  `json:"identity,omitempty"`
	Cumulative    float64 `json:"cumulative"`
	Confirmations int     `json:"confirmations"`
	Interior      bool    `json:"interior"`
}

// Clone returns a deep copy safe to hand to callers.
func (inc *Incident) Clone() Incident {
	out := *inc
	out.Events = append([]Event(nil), inc.Events...)
	out.Cameras = append([]string(nil), inc.Cameras...)
	return out
}

// Latest returns the most recent event, or nil when the incident is empty.
func (inc *Incident) Latest() *Event {
	if len(inc.Events) == 0 {
		return nil
	}
	return &inc.Events[len(inc.Events)-1]
}

// TotalDwell sums the dwell time of every buffered event.
func (inc *Incident) TotalDwell() float64 {
	var total float64
	for _, ev := range inc.Events {
		total += ev.DwellSeconds
	}
	return total
}

// Duration is the span between the first and last buffered event.
func (inc *Incident) Duration() float64 {
	if len(inc.Events) == 0 {
		return 0
	}
	return inc.Events[len(inc.Events)-1].Timestamp - inc.Events[0].Timestamp
}

// RangDoorbell reports whether any buffered event rang the doorbell.
func (inc *Incident) RangDoorbell() bool {
	for _, ev := range inc.Events {
		if ev.RangDoorbell {
			return true
		}
	}
	return false
}

// Knocked reports whether any buffered event knocked.
func (inc *Incident) Knocked() bool {
	for _, ev := range inc.Events {
		if ev.Knocked {
			return true
		}
	}
	return false
}

// HasToken reports whether any buffered event carried a delivery token.
func (inc *Incident) HasToken() bool {
	for i := range inc.Events {
		if inc.Events[i].HasToken() {
			return true
		}
	}
	return false
}

// RefreshCameras rebuilds the sorted distinct camera list.
func (inc *Incident) RefreshCameras() {
	seen := make(map[string]struct{}, len(inc.Events))
	cams := make([]string, 0, len(inc.Events))
	for _, ev := range inc.Events {
		if ev.Camera == "" {
			continue
		}
		if _, ok := seen[ev.Camera]; ok {
			continue
		}
		seen[ev.Camera] = struct{}{}
		cams = append(cams, ev.Camera)
	}
	sort.Strings(cams)
	inc.Cameras = cams
}
