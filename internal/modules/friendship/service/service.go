package service

import (
	"context"
	"errors"
	"fmt"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/entity"
	friendRepo "anoa.com/fellowship/internal/modules/friendship/repository"
	"anoa.com/fellowship/pkg/apperror"
	"anoa.com/fellowship/pkg/retry"
	"go.uber.org/zap"
)

// FriendshipService keeps the two mirrored records of every relationship in
// step. Each mutation commits both records in one atomic batch whose
// preconditions pin the state that was read; nothing here locks across users.
type FriendshipService interface {
	SendRequest(ctx context.Context, from, to, displayName string) (*SendResult, error)
	Accept(ctx context.Context, self, other string) (*entity.FriendshipEdge, error)
	Decline(ctx context.Context, self, other string) error
	Remove(ctx context.Context, self, other string) error
	ListAccepted(ctx context.Context, principal string) (*FriendList, error)
	ListPending(ctx context.Context, principal string, direction entity.Direction) (*FriendList, error)
}

// Notifier adds the friend-request notification to the request's batch and
// pushes it once committed. Retract stages the read flag for earlier requests
// of the same pair so they leave the unread count.
type Notifier interface {
	Stage(b *docstore.Batch, recipientID, originatorID, originatorName string) (*entity.Notification, error)
	Retract(ctx context.Context, b *docstore.Batch, recipientID, originatorID string) error
	Dispatch(ctx context.Context, n *entity.Notification)
}

// NameResolver looks up display names for the records' denormalized names.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

type Outcome string

const (
	OutcomeRequested      Outcome = "requested"
	OutcomeAccepted       Outcome = "accepted"
	OutcomeAlreadyPending Outcome = "already-pending"
	OutcomeAlreadyFriends Outcome = "already-friends"
)

type SendResult struct {
	Outcome        Outcome               `json:"outcome"`
	Edge           entity.FriendshipEdge `json:"edge"`
	NotificationID string                `json:"notification_id,omitempty"`
}

// Fault describes a pair whose mirrored records disagree.
type Fault struct {
	CounterpartID string            `json:"counterpart_id"`
	Own           entity.EdgeStatus `json:"own"`
	Mirror        entity.EdgeStatus `json:"mirror"`
}

func (f Fault) Err() error {
	return fmt.Errorf("%w: %s is %s but its mirror is %s", apperror.ErrConsistencyFault, f.CounterpartID, f.Own, f.Mirror)
}

// FriendList is a read projection. Pairs listed in Faults were left out of
// Edges.
type FriendList struct {
	Edges  []entity.FriendshipEdge `json:"edges"`
	Faults []Fault                 `json:"faults,omitempty"`
}

type friendshipService struct {
	repo     friendRepo.FriendshipRepository
	notifier Notifier
	names    NameResolver
	attempts int
	log      *zap.Logger
}

func NewFriendshipService(repo friendRepo.FriendshipRepository, notifier Notifier, names NameResolver, attempts int, log *zap.Logger) FriendshipService {
	return &friendshipService{
		repo:     repo,
		notifier: notifier,
		names:    names,
		attempts: attempts,
		log:      log,
	}
}

func statusOf(e *friendRepo.Edge) entity.EdgeStatus {
	if e == nil {
		return entity.StatusNone
	}
	return e.Status
}

// expect pins a record to the state it was read in.
func expect(e *friendRepo.Edge) docstore.Precondition {
	if e == nil {
		return docstore.MustNotExist()
	}
	return docstore.AtVersion(e.Version)
}

func validatePair(a, b string) error {
	if a == "" || b == "" {
		return apperror.Invalid("both user ids are required")
	}
	if a == b {
		return apperror.Invalid("cannot befriend yourself")
	}
	return nil
}

func (s *friendshipService) SendRequest(ctx context.Context, from, to, displayName string) (*SendResult, error) {
	if err := validatePair(from, to); err != nil {
		return nil, err
	}

	var result *SendResult
	err := retry.OnConflict(ctx, s.attempts, func() error {
		r, err := s.sendOnce(ctx, from, to, displayName)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *friendshipService) sendOnce(ctx context.Context, from, to, displayName string) (*SendResult, error) {
	own, mirror, err := s.repo.FindPair(ctx, from, to)
	if err != nil {
		return nil, err
	}
	ownStatus, mirrorStatus := statusOf(own), statusOf(mirror)

	switch {
	case ownStatus == entity.StatusPendingReceived || mirrorStatus == entity.StatusPendingSent:
		// the counterpart asked first, possibly a moment ago
		edge, err := s.acceptPair(ctx, from, to, own, mirror, displayName)
		if err != nil {
			return nil, err
		}
		return &SendResult{Outcome: OutcomeAccepted, Edge: *edge}, nil
	case ownStatus == entity.StatusPendingSent && mirrorStatus == entity.StatusPendingReceived:
		return &SendResult{Outcome: OutcomeAlreadyPending, Edge: own.FriendshipEdge}, nil
	case ownStatus == entity.StatusAccepted && mirrorStatus == entity.StatusAccepted:
		return &SendResult{Outcome: OutcomeAlreadyFriends, Edge: own.FriendshipEdge}, nil
	case !entity.Reconcilable(ownStatus, mirrorStatus):
		s.reportFault(from, Fault{CounterpartID: to, Own: ownStatus, Mirror: mirrorStatus})
	}

	sent := entity.FriendshipEdge{
		OwnerID:       from,
		CounterpartID: to,
		Status:        entity.StatusPendingSent,
		DisplayName:   s.displayName(ctx, to),
		PairKey:       entity.PairKey(from, to),
	}
	received := entity.FriendshipEdge{
		OwnerID:       to,
		CounterpartID: from,
		Status:        entity.StatusPendingReceived,
		DisplayName:   displayName,
		PairKey:       sent.PairKey,
	}

	b := docstore.NewBatch()
	friendRepo.StagePut(b, sent, from, expect(own))
	friendRepo.StagePut(b, received, from, expect(mirror))
	if err := s.notifier.Retract(ctx, b, to, from); err != nil {
		return nil, err
	}
	n, err := s.notifier.Stage(b, to, from, displayName)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Commit(ctx, b); err != nil {
		return nil, err
	}

	s.notifier.Dispatch(ctx, n)
	return &SendResult{Outcome: OutcomeRequested, Edge: sent, NotificationID: n.ID}, nil
}

func (s *friendshipService) Accept(ctx context.Context, self, other string) (*entity.FriendshipEdge, error) {
	if err := validatePair(self, other); err != nil {
		return nil, err
	}

	var edge *entity.FriendshipEdge
	err := retry.OnConflict(ctx, s.attempts, func() error {
		own, mirror, err := s.repo.FindPair(ctx, self, other)
		if err != nil {
			return err
		}
		if statusOf(own) != entity.StatusPendingReceived {
			return apperror.NotFound(fmt.Sprintf("no pending friend request from %s", other))
		}
		edge, err = s.acceptPair(ctx, self, other, own, mirror, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// acceptPair turns the pair into accepted⇄accepted. other is the initiator.
// A missing or wrong mirror is reported and overwritten by the same batch.
func (s *friendshipService) acceptPair(ctx context.Context, self, other string, own, mirror *friendRepo.Edge, selfName string) (*entity.FriendshipEdge, error) {
	if statusOf(own) != entity.StatusPendingReceived || statusOf(mirror) != entity.StatusPendingSent {
		s.reportFault(self, Fault{CounterpartID: other, Own: statusOf(own), Mirror: statusOf(mirror)})
	}

	mine := entity.FriendshipEdge{
		OwnerID:       self,
		CounterpartID: other,
		Status:        entity.StatusAccepted,
		PairKey:       entity.PairKey(self, other),
	}
	if own != nil && own.DisplayName != "" {
		mine.DisplayName = own.DisplayName
	} else {
		mine.DisplayName = s.displayName(ctx, other)
	}

	theirs := entity.FriendshipEdge{
		OwnerID:       other,
		CounterpartID: self,
		Status:        entity.StatusAccepted,
		PairKey:       mine.PairKey,
		DisplayName:   selfName,
	}
	if theirs.DisplayName == "" {
		if mirror != nil && mirror.DisplayName != "" {
			theirs.DisplayName = mirror.DisplayName
		} else {
			theirs.DisplayName = s.displayName(ctx, self)
		}
	}

	b := docstore.NewBatch()
	friendRepo.StagePut(b, mine, other, expect(own))
	friendRepo.StagePut(b, theirs, other, expect(mirror))
	if err := s.repo.Commit(ctx, b); err != nil {
		return nil, err
	}
	return &mine, nil
}

func (s *friendshipService) Decline(ctx context.Context, self, other string) error {
	if err := validatePair(self, other); err != nil {
		return err
	}

	return retry.OnConflict(ctx, s.attempts, func() error {
		own, mirror, err := s.repo.FindPair(ctx, self, other)
		if err != nil {
			return err
		}
		if statusOf(own) != entity.StatusPendingReceived {
			return apperror.NotFound(fmt.Sprintf("no pending friend request from %s", other))
		}
		if statusOf(mirror) != entity.StatusPendingSent {
			s.reportFault(self, Fault{CounterpartID: other, Own: own.Status, Mirror: statusOf(mirror)})
		}

		b := docstore.NewBatch()
		friendRepo.StageDelete(b, self, other, docstore.AtVersion(own.Version))
		if mirror != nil {
			friendRepo.StageDelete(b, other, self, docstore.AtVersion(mirror.Version))
		} else {
			friendRepo.StageDelete(b, other, self, docstore.MustNotExist())
		}
		if err := s.notifier.Retract(ctx, b, self, other); err != nil {
			return err
		}
		return s.repo.Commit(ctx, b)
	})
}

func (s *friendshipService) Remove(ctx context.Context, self, other string) error {
	if err := validatePair(self, other); err != nil {
		return err
	}
	return retry.OnConflict(ctx, s.attempts, func() error {
		b := docstore.NewBatch()
		friendRepo.StageDelete(b, self, other)
		friendRepo.StageDelete(b, other, self)
		// a pending request may run either way
		if err := s.notifier.Retract(ctx, b, other, self); err != nil {
			return err
		}
		if err := s.notifier.Retract(ctx, b, self, other); err != nil {
			return err
		}
		return s.repo.Commit(ctx, b)
	})
}

func (s *friendshipService) ListAccepted(ctx context.Context, principal string) (*FriendList, error) {
	return s.list(ctx, principal, entity.StatusAccepted)
}

func (s *friendshipService) ListPending(ctx context.Context, principal string, direction entity.Direction) (*FriendList, error) {
	if direction != entity.DirectionSent && direction != entity.DirectionReceived {
		return nil, apperror.Invalid(fmt.Sprintf("unknown direction %q", direction))
	}
	return s.list(ctx, principal, direction.Status())
}

// list returns the principal's edges in status whose mirror agrees. Pairs
// that disagree are reported and left out.
func (s *friendshipService) list(ctx context.Context, principal string, status entity.EdgeStatus) (*FriendList, error) {
	if principal == "" {
		return nil, apperror.Invalid("user id is required")
	}
	edges, err := s.repo.ListByOwner(ctx, principal)
	if err != nil {
		return nil, err
	}

	out := &FriendList{Edges: []entity.FriendshipEdge{}}
	for _, e := range edges {
		if e.Status != status {
			continue
		}
		mirror, err := s.repo.Find(ctx, e.CounterpartID, principal)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return nil, err
		}
		if ms := statusOf(mirror); !entity.Reconcilable(e.Status, ms) {
			f := Fault{CounterpartID: e.CounterpartID, Own: e.Status, Mirror: ms}
			s.reportFault(principal, f)
			out.Faults = append(out.Faults, f)
			continue
		}
		out.Edges = append(out.Edges, e.FriendshipEdge)
	}
	return out, nil
}

func (s *friendshipService) displayName(ctx context.Context, userID string) string {
	if s.names == nil {
		return ""
	}
	name, err := s.names.DisplayName(ctx, userID)
	if err != nil {
		s.log.Warn("display name lookup failed", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return name
}

func (s *friendshipService) reportFault(owner string, f Fault) {
	s.log.Warn("mirrored friendship records disagree",
		zap.String("owner_id", owner),
		zap.String("counterpart_id", f.CounterpartID),
		zap.String("own", string(f.Own)),
		zap.String("mirror", string(f.Mirror)),
		zap.Error(f.Err()),
	)
}
