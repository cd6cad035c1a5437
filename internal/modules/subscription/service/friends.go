package subscription

import (
	"context"
	"sort"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/entity"
	friendRepo "anoa.com/fellowship/internal/modules/friendship/repository"
	"anoa.com/fellowship/pkg/apperror"
	"go.uber.org/zap"
)

// Update is one projection snapshot. Exactly one of Friends or Thread is
// set, matching the subscription kind.
type Update struct {
	Friends  *FriendsView `json:"friends,omitempty"`
	Thread   *ThreadView  `json:"thread,omitempty"`
	Resynced bool         `json:"resynced,omitempty"`
}

// FriendDetail is an accepted friend joined with the counterpart's profile.
type FriendDetail struct {
	entity.FriendshipEdge
	Profile entity.Profile `json:"profile"`
}

// FriendsView classifies every counterpart into exactly one list.
type FriendsView struct {
	Principal       string                  `json:"principal"`
	Accepted        []FriendDetail          `json:"accepted"`
	PendingSent     []entity.FriendshipEdge `json:"pending_sent"`
	PendingReceived []entity.FriendshipEdge `json:"pending_received"`
}

type friendsProjection struct {
	principal string
	repo      friendRepo.FriendshipRepository
	profiles  ProfileReader
	log       *zap.Logger

	edges map[string]*friendRepo.Edge
	seen  versions
}

// SubscribeFriends streams the principal's friendship lists.
func (h *Hub) SubscribeFriends(ctx context.Context, principal string) (*Subscription, error) {
	if principal == "" {
		return nil, apperror.Invalid("principal is required")
	}
	return h.start(ctx, &friendsProjection{
		principal: principal,
		repo:      friendRepo.NewFriendshipRepository(h.store),
		profiles:  h.profiles,
		log:       h.log,
		edges:     make(map[string]*friendRepo.Edge),
		seen:      make(versions),
	})
}

func (p *friendsProjection) collections() []string {
	return []string{friendRepo.Collection(p.principal)}
}

func (p *friendsProjection) resync(ctx context.Context) error {
	edges, err := p.repo.ListByOwner(ctx, p.principal)
	if err != nil {
		return err
	}
	p.edges = make(map[string]*friendRepo.Edge, len(edges))
	for _, e := range edges {
		p.edges[e.CounterpartID] = e
		p.seen.advance(friendRepo.Key(p.principal, e.CounterpartID), e.Version)
	}
	return nil
}

func (p *friendsProjection) apply(c docstore.Change) (bool, error) {
	if !p.seen.advance(c.Key, c.Version) {
		return false, nil
	}
	if c.Type == docstore.Removed {
		_, had := p.edges[c.Key.ID]
		delete(p.edges, c.Key.ID)
		return had, nil
	}
	e, err := friendRepo.DecodeEdge(c.Document)
	if err != nil {
		return false, err
	}
	p.edges[c.Key.ID] = e
	return true, nil
}

func (p *friendsProjection) snapshot(ctx context.Context) Update {
	view := &FriendsView{
		Principal:       p.principal,
		Accepted:        []FriendDetail{},
		PendingSent:     []entity.FriendshipEdge{},
		PendingReceived: []entity.FriendshipEdge{},
	}

	ids := make([]string, 0, len(p.edges))
	for id := range p.edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := p.edges[id].FriendshipEdge
		switch e.Status {
		case entity.StatusAccepted:
			view.Accepted = append(view.Accepted, FriendDetail{FriendshipEdge: e, Profile: p.profile(ctx, e)})
		case entity.StatusPendingSent:
			view.PendingSent = append(view.PendingSent, e)
		case entity.StatusPendingReceived:
			view.PendingReceived = append(view.PendingReceived, e)
		}
	}
	return Update{Friends: view}
}

// profile reads the counterpart's profile, falling back to the name stored
// on the edge.
func (p *friendsProjection) profile(ctx context.Context, e entity.FriendshipEdge) entity.Profile {
	fallback := entity.Profile{ID: e.CounterpartID, DisplayName: e.DisplayName}
	if p.profiles == nil {
		return fallback
	}
	prof, err := p.profiles.GetCurrentProfile(ctx, e.CounterpartID)
	if err != nil {
		p.log.Warn("friend profile lookup failed", zap.String("counterpart_id", e.CounterpartID), zap.Error(err))
		return fallback
	}
	if prof.DisplayName == "" {
		prof.DisplayName = e.DisplayName
	}
	return *prof
}
