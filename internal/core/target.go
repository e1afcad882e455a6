package core

// Target is the dispatch destination resolved by the access gate: either
// a single servable or an ordered fan-out pipeline. The shape is decided
// exactly once, at the gate boundary; downstream code asks Fanout()
// instead of re-inspecting caller input.
type Target struct {
	fanout    bool
	servables []*Servable
}

// SingleTarget builds a target addressing one servable.
func SingleTarget(s *Servable) Target {
	return Target{servables: []*Servable{s}}
}

// FanoutTarget builds a pipeline target addressing servables in order.
func FanoutTarget(servables []*Servable) Target {
	return Target{fanout: true, servables: servables}
}

// Fanout reports whether this is a pipeline dispatch.
func (t Target) Fanout() bool { return t.fanout }

// Servables returns the resolved servables in dispatch order.
func (t Target) Servables() []*Servable { return t.servables }

// Primary returns the first servable. For single targets this is the
// only one.
func (t Target) Primary() *Servable {
	if len(t.servables) == 0 {
		return nil
	}
	return t.servables[0]
}

// Sites returns the routing targets in dispatch order.
func (t Target) Sites() []string {
	sites := make([]string, len(t.servables))
	for i, s := range t.servables {
		sites[i] = s.Site
	}
	return sites
}
