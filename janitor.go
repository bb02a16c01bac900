package jackrabbit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// runJanitor sweeps idle workspaces until shutdown cancels it. An
// eviction takes two sweeps: the first one that finds a workspace
// without sessions stamps it idle, a later one past the threshold
// disposes it. That way a short gap between two sessions never costs a
// workspace its bundle.
func (r *Repository) runJanitor(ctx context.Context, maxIdle time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(maxIdle / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if r.disposed.Load() {
			return
		}
		for _, w := range r.idleCandidates() {
			w.disposeIfIdle(maxIdle)
		}
	}
}

// idleCandidates is every workspace minus the default one minus those
// with a live tracked session.
func (r *Repository) idleCandidates() []*workspaceInfo {
	busy := map[string]struct{}{}
	r.sessions.Range(func(_ uuid.UUID, s *Session) bool {
		busy[s.workspace.name] = struct{}{}
		return true
	})
	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	out := make([]*workspaceInfo, 0, len(r.workspaces))
	for name, w := range r.workspaces {
		if name == r.opts.DefaultWorkspace {
			continue
		}
		if _, ok := busy[name]; ok {
			continue
		}
		out = append(out, w)
	}
	return out
}
