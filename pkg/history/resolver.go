package history

import (
	"time"
)

// DefaultChunkDays is the default window size of a chunked plan.
const DefaultChunkDays = 7

// maxEmptyWindows ends a growth plan after this many consecutive windows
// without new records.
const maxEmptyWindows = 2

// Resolver turns a Query into a Plan of windows.
type Resolver struct {
	// ChunkDays is the maximum window size in days
	ChunkDays int

	// Now returns the current time; defaults to time.Now
	Now func() time.Time
}

// NewResolver creates a resolver with the given chunk size in days
// (DefaultChunkDays when chunkDays <= 0).
func NewResolver(chunkDays int) *Resolver {
	if chunkDays <= 0 {
		chunkDays = DefaultChunkDays
	}
	return &Resolver{ChunkDays: chunkDays, Now: time.Now}
}

func (r *Resolver) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r *Resolver) chunk() time.Duration {
	days := r.ChunkDays
	if days <= 0 {
		days = DefaultChunkDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Plan resolves q. Fixed modes get their complete window list up front;
// growth modes produce windows one at a time as results are observed.
func (r *Resolver) Plan(q Query) *Plan {
	p := &Plan{
		query: q,
		chunk: r.chunk(),
		bar:   q.Bar(),
		now:   r.now(),
	}

	switch q.Mode {
	case ModeInterval:
		// Anchor on the next bar boundary so repeated calls within one bar
		// resolve to identical windows.
		end := p.now.Truncate(p.bar).Add(p.bar)
		p.windows = split(end.Add(-q.Interval), end, p.chunk)
	case ModeRange:
		p.windows = split(q.Start, q.End, p.chunk)
	case ModeBackward:
		p.edge = q.End
	case ModeForward:
		p.edge = q.Start
	}
	return p
}

func split(start, end time.Time, chunk time.Duration) []Window {
	var windows []Window
	for cur := start; cur.Before(end); {
		next := cur.Add(chunk)
		if next.After(end) {
			next = end
		}
		windows = append(windows, Window{Start: cur, End: next})
		cur = next
	}
	return windows
}

// Plan is the ordered sequence of windows to fetch for one Query. A Plan is
// used by a single goroutine.
type Plan struct {
	query Query
	chunk time.Duration
	bar   time.Duration
	now   time.Time

	// fixed plans
	windows []Window
	next    int

	// growth plans
	edge      time.Time
	collected int
	empty     int
	done      bool
}

// Query returns the planned query.
func (p *Plan) Query() Query {
	return p.query
}

// Windows returns the complete window list of a fixed plan, or nil for a
// growth plan.
func (p *Plan) Windows() []Window {
	if p.query.Direction() != Fixed {
		return nil
	}
	return p.windows
}

// Next returns the next window to fetch; ok is false once the plan is done.
func (p *Plan) Next() (w Window, ok bool) {
	if p.query.Direction() == Fixed {
		if p.next >= len(p.windows) {
			return Window{}, false
		}
		w = p.windows[p.next]
		p.next++
		return w, true
	}

	if p.done || p.empty >= maxEmptyWindows {
		return Window{}, false
	}
	remaining := p.query.MaxBars - p.collected
	if remaining <= 0 {
		return Window{}, false
	}

	// Compare in bars so a large MaxBars cannot overflow the duration.
	size := p.chunk
	if p.bar > 0 && int64(remaining) < int64(p.chunk/p.bar) {
		size = time.Duration(remaining) * p.bar
	}

	if p.query.Direction() == Backward {
		if p.edge.Unix() <= 0 {
			return Window{}, false
		}
		w = Window{Start: p.edge.Add(-size), End: p.edge}
		if w.Start.Unix() < 0 {
			w.Start = time.Unix(0, 0).UTC()
		}
		p.edge = w.Start
		return w, true
	}

	if !p.edge.Before(p.now) {
		return Window{}, false
	}
	w = Window{Start: p.edge, End: p.edge.Add(size)}
	p.edge = w.End
	return w, true
}

// Observe records the outcome of the window last returned by Next: the total
// number of unique bars collected so far and how many of them the window added.
// It has no effect on fixed plans.
func (p *Plan) Observe(collected, added int) {
	if p.query.Direction() == Fixed {
		return
	}
	p.collected = collected
	if added > 0 {
		p.empty = 0
	} else {
		p.empty++
	}
	if p.collected >= p.query.MaxBars || p.empty >= maxEmptyWindows {
		p.done = true
	}
}

// Exhausted reports whether a growth plan stopped because history ran out
// rather than because MaxBars was reached.
func (p *Plan) Exhausted() bool {
	return p.query.Direction() != Fixed && p.collected < p.query.MaxBars
}
