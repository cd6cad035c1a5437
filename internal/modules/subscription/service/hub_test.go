package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/docstore/memory"
	"anoa.com/fellowship/internal/entity"
	engagementDto "anoa.com/fellowship/internal/modules/engagement/dto"
	engagementRepo "anoa.com/fellowship/internal/modules/engagement/repository"
	engagementService "anoa.com/fellowship/internal/modules/engagement/service"
	friendRepo "anoa.com/fellowship/internal/modules/friendship/repository"
	friendService "anoa.com/fellowship/internal/modules/friendship/service"
	notifRepo "anoa.com/fellowship/internal/modules/notification/repository"
	notifService "anoa.com/fellowship/internal/modules/notification/service"
	profileRepo "anoa.com/fellowship/internal/modules/profile/repository"
	profile "anoa.com/fellowship/internal/modules/profile/service"
	"anoa.com/fellowship/pkg/apperror"
	"go.uber.org/zap"
)

type fixture struct {
	store      *memory.Store
	hub        *Hub
	friends    friendService.FriendshipService
	engagement engagementService.EngagementService
	profiles   profileRepo.ProfileRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	profiles := profileRepo.NewProfileRepository(store)
	profileSvc := profile.NewProfileService(profiles)
	notifier := notifService.NewNotificationService(notifRepo.NewNotificationRepository(store), nil, zap.NewNop())

	hub := NewHub(store, profileSvc, 200*time.Millisecond, zap.NewNop())
	t.Cleanup(hub.Close)
	return &fixture{
		store:      store,
		hub:        hub,
		friends:    friendService.NewFriendshipService(friendRepo.NewFriendshipRepository(store), notifier, profileSvc, 3, zap.NewNop()),
		engagement: engagementService.NewEngagementService(engagementRepo.NewDiscussionRepository(store), profileSvc, nil, 10, zap.NewNop()),
		profiles:   profiles,
	}
}

func waitFor(t *testing.T, sub *Subscription, pred func(Update) bool) Update {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case u, ok := <-sub.Updates():
			if !ok {
				t.Fatal("subscription ended while waiting for update")
			}
			if pred(u) {
				return u
			}
		case <-timeout:
			t.Fatal("timed out waiting for update")
		}
	}
}

func first(t *testing.T, sub *Subscription) Update {
	t.Helper()
	return waitFor(t, sub, func(Update) bool { return true })
}

func ids(edges []entity.FriendshipEdge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.CounterpartID)
	}
	return out
}

func TestSubscribeFriendsInitialSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.profiles.Save(ctx, "carol", "Carol C"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := f.friends.SendRequest(ctx, "alice", "bob", "Alice"); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if _, err := f.friends.SendRequest(ctx, "carol", "alice", "Carol"); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if _, err := f.friends.Accept(ctx, "alice", "carol"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	sub, err := f.hub.SubscribeFriends(ctx, "alice")
	if err != nil {
		t.Fatalf("SubscribeFriends failed: %v", err)
	}
	defer sub.Close()

	view := first(t, sub).Friends
	if view == nil {
		t.Fatal("expected a friends view")
	}
	if len(view.Accepted) != 1 || view.Accepted[0].CounterpartID != "carol" || view.Accepted[0].Profile.DisplayName != "Carol C" {
		t.Fatalf("unexpected accepted list %+v", view.Accepted)
	}
	if got := ids(view.PendingSent); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("unexpected pending-sent %v", got)
	}
	if len(view.PendingReceived) != 0 {
		t.Fatalf("unexpected pending-received %v", ids(view.PendingReceived))
	}
}

func TestSubscribeFriendsFollowsLiveChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.friends.SendRequest(ctx, "alice", "bob", "Alice"); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}

	sub, err := f.hub.SubscribeFriends(ctx, "bob")
	if err != nil {
		t.Fatalf("SubscribeFriends failed: %v", err)
	}
	defer sub.Close()

	if got := ids(first(t, sub).Friends.PendingReceived); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("expected pending request from alice, got %v", got)
	}

	if _, err := f.friends.Accept(ctx, "bob", "alice"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	u := waitFor(t, sub, func(u Update) bool { return len(u.Friends.Accepted) == 1 })
	if len(u.Friends.PendingReceived) != 0 || len(u.Friends.PendingSent) != 0 {
		t.Fatalf("a counterpart must sit in exactly one list, got %+v", u.Friends)
	}
	// no profile stored, so the edge's own name is used
	if u.Friends.Accepted[0].Profile.DisplayName != "Alice" {
		t.Fatalf("expected fallback display name, got %+v", u.Friends.Accepted[0].Profile)
	}

	if err := f.friends.Remove(ctx, "alice", "bob"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	waitFor(t, sub, func(u Update) bool { return len(u.Friends.Accepted) == 0 })
}

func edgeChange(t *testing.T, typ docstore.ChangeType, version int64, data string) docstore.Change {
	t.Helper()
	key := friendRepo.Key("alice", "bob")
	c := docstore.Change{Type: typ, Key: key, Version: version}
	if typ != docstore.Removed {
		c.Document = &docstore.Document{Key: key, Data: []byte(data), Version: version}
	}
	return c
}

func TestFriendsProjectionIgnoresStaleEvents(t *testing.T) {
	p := &friendsProjection{
		principal: "alice",
		log:       zap.NewNop(),
		edges:     make(map[string]*friendRepo.Edge),
		seen:      make(versions),
	}
	accepted := `{"status":"accepted","type":"sent","displayName":"Bob","pairKey":"alice:bob"}`
	pending := `{"status":"pending","type":"sent","displayName":"Bob","pairKey":"alice:bob"}`

	steps := []struct {
		change  docstore.Change
		applied bool
		want    entity.EdgeStatus
	}{
		{edgeChange(t, docstore.Added, 5, accepted), true, entity.StatusAccepted},
		{edgeChange(t, docstore.Modified, 3, pending), false, entity.StatusAccepted},
		{edgeChange(t, docstore.Removed, 5, ""), false, entity.StatusAccepted},
		{edgeChange(t, docstore.Removed, 6, ""), true, entity.StatusNone},
		{edgeChange(t, docstore.Added, 4, pending), false, entity.StatusNone},
	}
	for i, s := range steps {
		applied, err := p.apply(s.change)
		if err != nil {
			t.Fatalf("step %d: apply failed: %v", i, err)
		}
		if applied != s.applied {
			t.Fatalf("step %d: applied = %v, want %v", i, applied, s.applied)
		}
		got := entity.StatusNone
		if e := p.edges["bob"]; e != nil {
			got = e.Status
		}
		if got != s.want {
			t.Fatalf("step %d: status = %s, want %s", i, got, s.want)
		}
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub, err := f.hub.SubscribeFriends(ctx, "alice")
	if err != nil {
		t.Fatalf("SubscribeFriends failed: %v", err)
	}
	first(t, sub)
	if f.hub.Active() != 1 {
		t.Fatalf("expected 1 active subscription, got %d", f.hub.Active())
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := f.friends.SendRequest(ctx, "bob", "alice", "Bob"); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}

	select {
	case u, ok := <-sub.Updates():
		if ok {
			t.Fatalf("update delivered after Close: %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("updates channel was not closed")
	}
	if f.hub.Active() != 0 {
		t.Fatalf("projection still registered after Close")
	}
	if n := f.store.Watchers(friendRepo.Collection("alice")); n != 0 {
		t.Fatalf("expected change stream to be released, %d still open", n)
	}
	_ = sub.Close()
}

func TestCallerCancellationEndsSubscription(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := f.hub.SubscribeFriends(ctx, "alice")
	if err != nil {
		t.Fatalf("SubscribeFriends failed: %v", err)
	}
	first(t, sub)
	cancel()

	select {
	case _, ok := <-sub.Updates():
		if ok {
			t.Fatal("unexpected update after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription did not end after cancellation")
	}
}

func TestResubscribesAndResyncsAfterStreamLoss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub, err := f.hub.SubscribeFriends(ctx, "alice")
	if err != nil {
		t.Fatalf("SubscribeFriends failed: %v", err)
	}
	defer sub.Close()
	first(t, sub)

	f.store.Disconnect()
	if _, err := f.friends.SendRequest(ctx, "bob", "alice", "Bob"); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}

	resynced := false
	waitFor(t, sub, func(u Update) bool {
		resynced = resynced || u.Resynced
		got := ids(u.Friends.PendingReceived)
		return resynced && len(got) == 1 && got[0] == "bob"
	})

	// the new stream keeps delivering
	if _, err := f.friends.Accept(ctx, "alice", "bob"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	waitFor(t, sub, func(u Update) bool { return len(u.Friends.Accepted) == 1 })
}

func TestSubscribeThreadTracksCommentsAndLikes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d, err := f.engagement.CreateDiscussion(ctx, "alice", engagementDto.CreateDiscussionInput{Title: "Reunion", Content: "Who is coming?"})
	if err != nil {
		t.Fatalf("CreateDiscussion failed: %v", err)
	}

	sub, err := f.hub.SubscribeThread(ctx, d.ID)
	if err != nil {
		t.Fatalf("SubscribeThread failed: %v", err)
	}
	defer sub.Close()

	if v := first(t, sub).Thread; v == nil || len(v.Comments) != 0 || v.Deleted {
		t.Fatalf("unexpected initial thread %+v", v)
	}

	top, err := f.engagement.AddComment(ctx, "bob", d.ID, engagementDto.CreateCommentInput{Content: "me"})
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	if _, err := f.engagement.AddComment(ctx, "carol", d.ID, engagementDto.CreateCommentInput{Content: "me too", ParentCommentID: top.ID}); err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	u := waitFor(t, sub, func(u Update) bool { return len(u.Thread.Comments) == 2 && u.Thread.CommentCount == 2 })
	if u.Thread.Comments[0].ID != top.ID || u.Thread.Comments[0].ReplyCount != 1 {
		t.Fatalf("unexpected assembled thread %+v", u.Thread.Comments)
	}

	// activity on another discussion is filtered out
	if _, err := f.engagement.CreateDiscussion(ctx, "bob", engagementDto.CreateDiscussionInput{Title: "Other", Content: "x"}); err != nil {
		t.Fatalf("CreateDiscussion failed: %v", err)
	}
	if _, err := f.engagement.ToggleLike(ctx, d.ID, "bob"); err != nil {
		t.Fatalf("ToggleLike failed: %v", err)
	}
	u = waitFor(t, sub, func(u Update) bool { return u.Thread.Likes == 1 })
	if len(u.Thread.LikedBy) != 1 || u.Thread.LikedBy[0] != "bob" {
		t.Fatalf("unexpected like state %+v", u.Thread)
	}

	if err := f.engagement.DeleteDiscussion(ctx, "alice", d.ID); err != nil {
		t.Fatalf("DeleteDiscussion failed: %v", err)
	}
	waitFor(t, sub, func(u Update) bool { return u.Thread.Deleted && len(u.Thread.Comments) == 0 })
}

func TestSubscribeThreadUnknownDiscussion(t *testing.T) {
	f := newFixture(t)
	_, err := f.hub.SubscribeThread(context.Background(), "missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.hub.Active() != 0 {
		t.Fatal("failed subscribe must not register a projection")
	}
	if n := f.store.Watchers("discussions"); n != 0 {
		t.Fatalf("failed subscribe leaked %d streams", n)
	}
}
