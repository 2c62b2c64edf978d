// Package watch runs backlink change detection: the scanner diffs a
// domain's current backlinks against the snapshot set, and the scheduler
// fires due watch jobs on a fixed tick and notifies subscribers.
//
// Only scheduled scans record snapshots. On-demand checks use Preview, which
// reads the snapshot set and never consumes a link's "new" status before the
// watchers of that domain have been notified.
package watch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/linkpulse/linkpulse/internal/domain"
	"github.com/linkpulse/linkpulse/internal/infra/observability"
)

// Scanner reports backlinks seen for the first time.
type Scanner struct {
	source    domain.BacklinkSource
	snapshots domain.SnapshotStore
	log       *logrus.Entry
}

// NewScanner creates a scanner over a backlink source and snapshot store.
func NewScanner(source domain.BacklinkSource, snapshots domain.SnapshotStore, log logrus.FieldLogger) *Scanner {
	return &Scanner{
		source:    source,
		snapshots: snapshots,
		log:       observability.Component(log, "scanner"),
	}
}

// Scan fetches the current backlinks of a domain and returns, in provider
// order, those whose (domain, source url) pair was not known before.
//
// A collaborator failure yields no links and an error wrapping
// ErrCollaboratorUnavailable. A storage failure returns the links already
// recorded as new together with the error, since those are now remembered
// and would not be reported again.
func (s *Scanner) Scan(ctx context.Context, domainName string) ([]domain.NewLink, error) {
	log := s.log.WithField("domain", domainName)

	links, err := s.source.Backlinks(ctx, domainName)
	if err != nil {
		observability.ScansTotal.WithLabelValues("degraded").Inc()
		log.WithError(err).Warn("backlink fetch failed, no new links this cycle")
		return nil, err
	}

	var fresh []domain.NewLink
	for _, l := range links {
		res, err := s.snapshots.InsertSnapshot(domain.LinkSnapshot{
			Domain:    domainName,
			SourceURL: l.SourceURL,
			FirstSeen: l.FirstSeen,
		})
		if err != nil {
			observability.ScansTotal.WithLabelValues("error").Inc()
			log.WithError(err).Error("snapshot insert failed")
			return fresh, fmt.Errorf("record snapshot %s: %w", l.SourceURL, err)
		}
		if res == domain.Inserted {
			fresh = append(fresh, domain.NewLink{URL: l.SourceURL, FirstSeen: l.FirstSeen, Anchor: l.Anchor})
		}
	}

	observability.ScansTotal.WithLabelValues("ok").Inc()
	observability.NewLinksTotal.Add(float64(len(fresh)))
	log.WithFields(logrus.Fields{"fetched": len(links), "new": len(fresh)}).Debug("scan complete")
	return fresh, nil
}

// Preview reports, in provider order, the current backlinks that have no
// snapshot yet. It writes nothing, so a later Scan still reports them.
func (s *Scanner) Preview(ctx context.Context, domainName string) ([]domain.NewLink, error) {
	log := s.log.WithField("domain", domainName)

	links, err := s.source.Backlinks(ctx, domainName)
	if err != nil {
		observability.ScansTotal.WithLabelValues("degraded").Inc()
		log.WithError(err).Warn("backlink fetch failed")
		return nil, err
	}

	var fresh []domain.NewLink
	for _, l := range links {
		known, err := s.snapshots.HasSnapshot(domainName, l.SourceURL)
		if err != nil {
			observability.ScansTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("lookup snapshot %s: %w", l.SourceURL, err)
		}
		if !known {
			fresh = append(fresh, domain.NewLink{URL: l.SourceURL, FirstSeen: l.FirstSeen, Anchor: l.Anchor})
		}
	}

	observability.ScansTotal.WithLabelValues("preview").Inc()
	log.WithFields(logrus.Fields{"fetched": len(links), "unseen": len(fresh)}).Debug("preview complete")
	return fresh, nil
}

// Recorded returns how many backlinks of a domain are already remembered.
func (s *Scanner) Recorded(domainName string) (int64, error) {
	return s.snapshots.SnapshotCount(domainName)
}
