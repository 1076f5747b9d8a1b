// Package ssrc keeps the per-channel table of which SSRC belongs to which
// user and stream kind. It is not safe for concurrent use; the owning
// channel serializes access.
package ssrc

import (
	"fmt"
	"slices"

	"github.com/dkeye/voicechan/internal/domain"
)

type Directory struct {
	bySSRC  map[domain.SSRC]domain.SsrcMapping
	byOwner map[domain.UserID]map[domain.StreamKind]domain.SSRC
}

func NewDirectory() *Directory {
	return &Directory{
		bySSRC:  make(map[domain.SSRC]domain.SsrcMapping),
		byOwner: make(map[domain.UserID]map[domain.StreamKind]domain.SSRC),
	}
}

// Register maps ssrc to (user, kind). An SSRC owned by another user is
// rejected. Any of the user's own mappings the new one displaces are removed
// first and reported in the same delta.
func (d *Directory) Register(user domain.UserID, kind domain.StreamKind, ssrc domain.SSRC) (domain.SsrcDelta, error) {
	if ssrc == 0 {
		return domain.SsrcDelta{}, fmt.Errorf("%w: ssrc must be non-zero", domain.ErrValidation)
	}
	if err := kind.Validate(); err != nil {
		return domain.SsrcDelta{}, err
	}

	next := domain.SsrcMapping{SSRC: ssrc, UserID: user, StreamKind: kind}
	if cur, ok := d.bySSRC[ssrc]; ok && cur == next {
		return domain.SsrcDelta{}, nil
	}

	if cur, ok := d.bySSRC[ssrc]; ok && cur.UserID != user {
		return domain.SsrcDelta{}, domain.ErrSsrcInUse
	}

	var delta domain.SsrcDelta
	if old, ok := d.bySSRC[ssrc]; ok {
		d.remove(old)
		delta.Removed = append(delta.Removed, old)
	}
	if prev, ok := d.byOwner[user][kind]; ok {
		old := d.bySSRC[prev]
		d.remove(old)
		delta.Removed = append(delta.Removed, old)
	}

	d.bySSRC[ssrc] = next
	kinds, ok := d.byOwner[user]
	if !ok {
		kinds = make(map[domain.StreamKind]domain.SSRC, len(domain.StreamKinds))
		d.byOwner[user] = kinds
	}
	kinds[kind] = ssrc
	delta.Added = append(delta.Added, next)
	return delta, nil
}

func (d *Directory) Unregister(user domain.UserID, kind domain.StreamKind) (domain.SsrcDelta, bool) {
	ssrc, ok := d.byOwner[user][kind]
	if !ok {
		return domain.SsrcDelta{}, false
	}
	m := d.bySSRC[ssrc]
	d.remove(m)
	return domain.SsrcDelta{Removed: []domain.SsrcMapping{m}}, true
}

func (d *Directory) UnregisterAllForUser(user domain.UserID) domain.SsrcDelta {
	var delta domain.SsrcDelta
	for _, ssrc := range d.byOwner[user] {
		delta.Removed = append(delta.Removed, d.bySSRC[ssrc])
	}
	for _, m := range delta.Removed {
		d.remove(m)
	}
	sortMappings(delta.Removed)
	return delta
}

func (d *Directory) Lookup(ssrc domain.SSRC) (domain.SsrcMapping, bool) {
	m, ok := d.bySSRC[ssrc]
	return m, ok
}

func (d *Directory) SSRCOf(user domain.UserID, kind domain.StreamKind) (domain.SSRC, bool) {
	s, ok := d.byOwner[user][kind]
	return s, ok
}

// Snapshot returns a copy of the table ordered by SSRC.
func (d *Directory) Snapshot() []domain.SsrcMapping {
	out := make([]domain.SsrcMapping, 0, len(d.bySSRC))
	for _, m := range d.bySSRC {
		out = append(out, m)
	}
	sortMappings(out)
	return out
}

func (d *Directory) Len() int { return len(d.bySSRC) }

func (d *Directory) remove(m domain.SsrcMapping) {
	delete(d.bySSRC, m.SSRC)
	if kinds, ok := d.byOwner[m.UserID]; ok {
		delete(kinds, m.StreamKind)
		if len(kinds) == 0 {
			delete(d.byOwner, m.UserID)
		}
	}
}

func sortMappings(ms []domain.SsrcMapping) {
	slices.SortFunc(ms, func(a, b domain.SsrcMapping) int {
		switch {
		case a.SSRC < b.SSRC:
			return -1
		case a.SSRC > b.SSRC:
			return 1
		}
		return 0
	})
}
