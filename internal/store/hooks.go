package store

import (
	"errors"
	"sort"
	"time"

	"github.com/shopkeep/shopsync/internal/schema"
)

// MergeResult counts what Merge did with a batch of remote rows.
type MergeResult struct {
	Applied    int // remote won and the payload changed
	Unchanged  int // identical payload, at most the timestamp moved
	LocalNewer int // local record is newer and will be pushed
	Skipped    int // id is pending deletion
	Rejected   int // row could not be decoded (e.g. newer schema version)
	Errors     []error
}

// Merge applies remote rows to a collection using last-write-wins on
// updated_at. Ties favor the remote row. Rows whose id is pending deletion
// are ignored so a local delete is not undone before it reaches the backend.
func (s *Store) Merge(tenant, collectionName string, rows []schema.RemoteRow) (MergeResult, error) {
	var res MergeResult

	s.mu.Lock()
	c, err := s.scopeFor(tenant, collectionName)
	if err != nil {
		s.mu.Unlock()
		return res, err
	}

	var changes []Change
	for _, row := range rows {
		if row.BusinessID != "" && row.BusinessID != tenant {
			res.Rejected++
			res.Errors = append(res.Errors, errors.New("row "+row.ID+" belongs to another tenant"))
			continue
		}
		if _, pending := c.pending[row.ID]; pending {
			res.Skipped++
			continue
		}

		remote, err := row.ToRecord()
		if err == nil {
			err = remote.Validate()
		}
		if err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, err)
			continue
		}
		remote.UpdatedAt = schema.Stamp(remote.UpdatedAt)

		local, exists := c.records[row.ID]
		switch {
		case exists && local.UpdatedAt.After(remote.UpdatedAt):
			res.LocalNewer++
			continue
		case exists && local.SameData(remote):
			res.Unchanged++
			if local.UpdatedAt.Equal(remote.UpdatedAt) && local.CreatedBy == remote.CreatedBy {
				continue
			}
			local.UpdatedAt = remote.UpdatedAt
			local.CreatedBy = remote.CreatedBy
			c.records[row.ID] = local
			s.markDirty(collectionName)
			continue
		}

		c.records[row.ID] = remote
		s.markDirty(collectionName)
		res.Applied++

		out := remote.Clone()
		changes = append(changes, Change{
			Tenant:     tenant,
			Collection: collectionName,
			Kind:       ChangeMerge,
			ID:         row.ID,
			Record:     &out,
		})
	}
	s.mu.Unlock()

	if res.Rejected > 0 {
		s.logger.Printf("WARNING: %s: rejected %d remote rows: %v", collectionName, res.Rejected, res.Errors[0])
	}

	s.publish(changes...)
	return res, nil
}

// Outgoing returns the local records that must be pushed: those the backend
// does not have, and those newer than the backend's copy. remote maps the
// fetched ids to their updated_at.
func (s *Store) Outgoing(tenant, collectionName string, remote map[string]time.Time) ([]schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.scopeFor(tenant, collectionName)
	if err != nil {
		return nil, err
	}

	var out []schema.Record
	for id, rec := range c.records {
		remoteAt, known := remote[id]
		if !known || rec.UpdatedAt.After(remoteAt) {
			out = append(out, rec.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

// Acknowledge records that pushed records were written remotely at stamp.
// Records mutated since they were read by Outgoing keep their payload and
// are restamped after stamp if needed, so the newer local edit wins the
// next merge and is pushed. It returns the number of records acknowledged.
func (s *Store) Acknowledge(tenant, collectionName string, pushed []schema.Record, stamp time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.scopeFor(tenant, collectionName)
	if err != nil {
		return 0, err
	}
	if stamp.IsZero() {
		return 0, nil
	}

	stamp = schema.Stamp(stamp)
	n, dirty := 0, false
	for _, p := range pushed {
		cur, ok := c.records[p.ID]
		if !ok {
			continue
		}
		if !cur.UpdatedAt.Equal(p.UpdatedAt) || !cur.SameData(p) {
			if !cur.UpdatedAt.After(stamp) {
				cur.UpdatedAt = s.stamp(stamp)
				c.records[p.ID] = cur
				dirty = true
			}
			continue
		}
		cur.UpdatedAt = stamp
		cur.CreatedBy = p.CreatedBy
		c.records[p.ID] = cur
		n++
		dirty = true
	}
	if dirty {
		s.markDirty(collectionName)
	}
	return n, nil
}

// PendingDeletions returns the ids deleted locally and not yet confirmed
// remotely, sorted.
func (s *Store) PendingDeletions(tenant, collectionName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.scopeFor(tenant, collectionName)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ClearPendingDeletions drops the given ids from the pending set after the
// backend confirmed them. Ids deleted after the list was taken stay queued.
func (s *Store) ClearPendingDeletions(tenant, collectionName string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.scopeFor(tenant, collectionName)
	if err != nil {
		return err
	}

	cleared := false
	for _, id := range ids {
		if _, ok := c.pending[id]; ok {
			delete(c.pending, id)
			cleared = true
		}
	}
	if cleared {
		s.markDirty(collectionName)
	}
	return nil
}
