package countdown

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/app"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/ports"
)

// Registry possède un Controller par série affichée et les fait avancer avec un
// seul ticker partagé.
type Registry struct {
	opts Options
	wg   conc.WaitGroup

	mu          sync.Mutex
	controllers map[string]*Controller
}

func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts.withDefaults(), controllers: map[string]*Controller{}}
}

// Reconcile aligne les contrôleurs sur list: ajoute les nouvelles séries, synchronise
// les existantes et libère celles qui ont disparu.
func (r *Registry) Reconcile(list []app.SeriesDTO) {
	seen := make(map[string]bool, len(list))
	var removed []string

	r.mu.Lock()
	for _, s := range list {
		seen[s.ID] = true
		if c, ok := r.controllers[s.ID]; ok {
			c.Sync(s)
			continue
		}
		r.controllers[s.ID] = newController(s, r.opts, &r.wg)
	}
	for id := range r.controllers {
		if !seen[id] {
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	for _, id := range removed {
		r.Remove(id)
	}
}

// Upsert synchronise (ou crée) le contrôleur d'une seule série.
func (r *Registry) Upsert(s app.SeriesDTO) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[s.ID]; ok {
		c.Sync(s)
		return
	}
	r.controllers[s.ID] = newController(s, r.opts, &r.wg)
}

// Remove libère le contrôleur de id. Aucune callback ne le touche ensuite.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	c, ok := r.controllers[id]
	delete(r.controllers, id)
	r.mu.Unlock()
	if !ok {
		return false
	}

	title := c.View(time.Time{}).Title
	c.Dispose()
	if r.opts.Bus != nil {
		b, _ := json.Marshal(Notice{ID: id, Title: title})
		r.opts.Bus.Publish(ports.Event{Topic: "series.removed", Payload: b})
	}
	return true
}

func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[id]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

func (r *Registry) snapshot() []*Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c)
	}
	return out
}

func (r *Registry) TickAll(now time.Time) {
	for _, c := range r.snapshot() {
		c.Tick(now)
	}
}

// Views renvoie les vues triées: les plus proches de la diffusion d'abord, puis
// les séries sans planning par titre.
func (r *Registry) Views(now time.Time) []View {
	controllers := r.snapshot()
	out := make([]View, 0, len(controllers))
	for _, c := range controllers {
		out = append(out, c.View(now))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.AirAt != nil && b.AirAt != nil:
			if !a.AirAt.Equal(*b.AirAt) {
				return a.AirAt.Before(*b.AirAt)
			}
		case a.AirAt != nil:
			return true
		case b.AirAt != nil:
			return false
		}
		return a.Title < b.Title
	})
	return out
}

// Run fait tourner le ticker partagé jusqu'à l'annulation de ctx, puis libère
// tous les contrôleurs et attend les requêtes en vol.
func (r *Registry) Run(ctx context.Context, interval time.Duration, onTick func(now time.Time)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.C:
			now := r.opts.Clock.Now()
			r.TickAll(now)
			if onTick != nil {
				onTick(now)
			}
		}
	}
}

// Close dispose tous les contrôleurs et attend la fin des goroutines d'avance.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.controllers
	r.controllers = map[string]*Controller{}
	r.mu.Unlock()
	for _, c := range all {
		c.Dispose()
	}
	r.wg.Wait()
}
