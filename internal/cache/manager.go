package cache

import (
	"context"
	"time"

	"github.com/ashureev/intervox/internal/domain"
	"github.com/ashureev/intervox/internal/metrics"
	"github.com/ashureev/intervox/internal/realtime"
	"github.com/ashureev/intervox/internal/remotestore"
	"github.com/ashureev/intervox/internal/store"
)

// fetchTimeout bounds the single-record fetch triggered by a feed event.
const fetchTimeout = 10 * time.Second

// Manager wires the interview and job collections to the persisted store
// and the realtime change feed.
type Manager struct {
	Interviews *Collection[domain.Interview]
	Jobs       *Collection[domain.Job]

	feed  *realtime.Feed
	stats *metrics.Metrics
}

// NewManager creates the collection caches backed by the given repository
// and remote store.
func NewManager(repo store.Repository, remote *remotestore.Client, feed *realtime.Feed, stats *metrics.Metrics) *Manager {
	return &Manager{
		Interviews: NewCollection(store.NamespaceInterviews, repo,
			remote.GetInterview, remote.ListInterviews),
		Jobs: NewCollection(store.NamespaceJobs, repo,
			remote.GetJob, remote.ListJobs),
		feed:  feed,
		stats: stats,
	}
}

// Watch hydrates both collections for the owner and subscribes them to the
// owner's change-feed channel. The returned function stops watching.
// The feed runs independently of the active session; it may mutate the
// collection caches at any time without touching turn state.
func (m *Manager) Watch(ctx context.Context, ownerID string) func() {
	m.Interviews.Hydrate(ctx, ownerID)
	m.Jobs.Hydrate(ctx, ownerID)

	if m.feed == nil {
		return func() {}
	}

	return m.feed.Subscribe(ownerID, "collections", func(ev realtime.Event) {
		if m.stats != nil {
			m.stats.ReconcileEvents.WithLabelValues(ev.Namespace, string(ev.Action)).Inc()
		}

		fetchCtx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		switch ev.Namespace {
		case store.NamespaceInterviews:
			m.Interviews.ApplyChange(fetchCtx, ev)
		case store.NamespaceJobs:
			m.Jobs.ApplyChange(fetchCtx, ev)
		}
	})
}
