package rounds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lastofguss/guss/internal/events"
	"github.com/lastofguss/guss/internal/models"
)

// fakeStore emulates the Postgres repository in memory. A per-round mutex
// stands in for the round row lock, so TapUpdate callbacks are serialized per
// round exactly like the real transaction. Mutations happen on copies and are
// written back only when the callback succeeds, mirroring rollback semantics.
type fakeStore struct {
	mu           sync.Mutex
	rounds       map[uuid.UUID]*models.Round
	participants map[uuid.UUID]map[uuid.UUID]*models.Participant
	usernames    map[uuid.UUID]string
	locks        map[uuid.UUID]*sync.Mutex
	seq          int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rounds:       make(map[uuid.UUID]*models.Round),
		participants: make(map[uuid.UUID]map[uuid.UUID]*models.Participant),
		usernames:    make(map[uuid.UUID]string),
		locks:        make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *fakeStore) addRound(round models.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if round.CreatedAt.IsZero() {
		round.CreatedAt = time.Unix(int64(s.seq), 0)
	}
	s.rounds[round.ID] = &round
	s.participants[round.ID] = make(map[uuid.UUID]*models.Participant)
	s.locks[round.ID] = &sync.Mutex{}
}

func (s *fakeStore) CreateRound(_ context.Context, round models.Round) (*models.Round, error) {
	s.addRound(round)
	s.mu.Lock()
	defer s.mu.Unlock()
	created := *s.rounds[round.ID]
	return &created, nil
}

func (s *fakeStore) GetRound(_ context.Context, id uuid.UUID) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	round, ok := s.rounds[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	copied := *round
	return &copied, nil
}

func (s *fakeStore) ListRounds(_ context.Context, limit, offset int) ([]models.Round, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]models.Round, 0, len(s.rounds))
	for _, round := range s.rounds {
		all = append(all, *round)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *fakeStore) ListParticipants(_ context.Context, roundID uuid.UUID) ([]ParticipantScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardLocked(roundID), nil
}

func (s *fakeStore) leaderboardLocked(roundID uuid.UUID) []ParticipantScore {
	rows := make([]*models.Participant, 0, len(s.participants[roundID]))
	for _, p := range s.participants[roundID] {
		rows = append(rows, p)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})

	scores := make([]ParticipantScore, 0, len(rows))
	for _, p := range rows {
		scores = append(scores, ParticipantScore{
			UserID:   p.UserID,
			Username: s.usernames[p.UserID],
			Taps:     p.Taps,
			Score:    p.Score,
		})
	}
	return scores
}

func (s *fakeStore) TapUpdate(_ context.Context, roundID, userID uuid.UUID, fn func(round *models.Round, participant *models.Participant) error) (*models.Round, *models.Participant, error) {
	s.mu.Lock()
	lock, ok := s.locks[roundID]
	s.mu.Unlock()
	if !ok {
		return nil, nil, ErrRoundNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	round := *s.rounds[roundID]
	var participant models.Participant
	created := false
	if existing, ok := s.participants[roundID][userID]; ok {
		participant = *existing
	} else {
		s.seq++
		participant = models.Participant{
			ID:        uuid.New(),
			RoundID:   roundID,
			UserID:    userID,
			CreatedAt: time.Unix(int64(s.seq), 0),
		}
		created = true
	}
	s.mu.Unlock()

	if err := fn(&round, &participant); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.rounds[roundID] = &round
	if created {
		s.participants[roundID][userID] = &participant
	} else {
		*s.participants[roundID][userID] = participant
	}
	s.mu.Unlock()
	return &round, &participant, nil
}

func newTestApp(store Store, clock clockwork.Clock) *App {
	return NewApp(store, events.NewBus(16), clock, Config{
		RoundDuration:    time.Minute,
		CooldownDuration: 30 * time.Second,
	})
}

func activeRound(store *fakeStore, now time.Time) uuid.UUID {
	round := models.Round{
		ID:      uuid.New(),
		StartAt: now.Add(-10 * time.Second),
		EndAt:   now.Add(time.Minute),
	}
	store.addRound(round)
	return round.ID
}

func survivor(store *fakeStore, username string) *models.User {
	user := &models.User{ID: uuid.New(), Username: username, Role: models.UserRoleSurvivor}
	store.mu.Lock()
	store.usernames[user.ID] = username
	store.mu.Unlock()
	return user
}

func TestTapBonusEveryEleventh(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore()
	app := newTestApp(store, clock)
	roundID := activeRound(store, clock.Now())
	player := survivor(store, "alice")

	var last *TapResult
	for i := 0; i < 11; i++ {
		result, err := app.Tap(context.Background(), roundID, player)
		if err != nil {
			t.Fatalf("tap %d failed: %v", i+1, err)
		}
		last = result
	}

	// 10 regular taps plus one bonus tap worth 10.
	if last.Taps != 11 || last.Score != 20 {
		t.Errorf("after 11 taps got taps=%d score=%d, want taps=11 score=20", last.Taps, last.Score)
	}

	for i := 0; i < 11; i++ {
		var err error
		last, err = app.Tap(context.Background(), roundID, player)
		if err != nil {
			t.Fatalf("tap %d failed: %v", i+12, err)
		}
	}
	if last.Taps != 22 || last.Score != 40 {
		t.Errorf("after 22 taps got taps=%d score=%d, want taps=22 score=40", last.Taps, last.Score)
	}

	round, _ := store.GetRound(context.Background(), roundID)
	if round.TotalScore != 40 {
		t.Errorf("round total = %d, want 40", round.TotalScore)
	}
}

func TestTapExemptRoleNeverScores(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore()
	app := newTestApp(store, clock)
	roundID := activeRound(store, clock.Now())

	nikita := &models.User{ID: uuid.New(), Username: "nikita", Role: models.UserRoleNikita}
	store.mu.Lock()
	store.usernames[nikita.ID] = nikita.Username
	store.mu.Unlock()

	var last *TapResult
	for i := 0; i < 12; i++ {
		result, err := app.Tap(context.Background(), roundID, nikita)
		if err != nil {
			t.Fatalf("tap %d failed: %v", i+1, err)
		}
		last = result
	}

	if last.Taps != 12 {
		t.Errorf("taps = %d, want 12", last.Taps)
	}
	if last.Score != 0 {
		t.Errorf("reported score = %d, want 0", last.Score)
	}

	round, _ := store.GetRound(context.Background(), roundID)
	if round.TotalScore != 0 {
		t.Errorf("round total = %d, want 0", round.TotalScore)
	}
	scores, _ := store.ListParticipants(context.Background(), roundID)
	if len(scores) != 1 || scores[0].Score != 0 || scores[0].Taps != 12 {
		t.Errorf("stored participant = %+v, want taps=12 score=0", scores)
	}
}

func TestTapRejectedOutsideActiveWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore()
	app := newTestApp(store, clock)
	player := survivor(store, "bob")

	pending := models.Round{
		ID:      uuid.New(),
		StartAt: clock.Now().Add(time.Minute),
		EndAt:   clock.Now().Add(2 * time.Minute),
	}
	store.addRound(pending)

	done := models.Round{
		ID:      uuid.New(),
		StartAt: clock.Now().Add(-2 * time.Minute),
		EndAt:   clock.Now().Add(-time.Minute),
	}
	store.addRound(done)

	if _, err := app.Tap(context.Background(), pending.ID, player); !errors.Is(err, ErrRoundNotStarted) {
		t.Errorf("tap on cooldown round: got %v, want ErrRoundNotStarted", err)
	}
	if _, err := app.Tap(context.Background(), done.ID, player); !errors.Is(err, ErrRoundFinished) {
		t.Errorf("tap on finished round: got %v, want ErrRoundFinished", err)
	}
	if _, err := app.Tap(context.Background(), uuid.New(), player); !errors.Is(err, ErrRoundNotFound) {
		t.Errorf("tap on unknown round: got %v, want ErrRoundNotFound", err)
	}

	// Rejected taps leave no trace.
	for _, id := range []uuid.UUID{pending.ID, done.ID} {
		scores, _ := store.ListParticipants(context.Background(), id)
		if len(scores) != 0 {
			t.Errorf("rejected tap created participant rows: %+v", scores)
		}
		round, _ := store.GetRound(context.Background(), id)
		if round.TotalScore != 0 {
			t.Errorf("rejected tap changed total: %d", round.TotalScore)
		}
	}
}

func TestTapConcurrentUsersLoseNothing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore()
	app := newTestApp(store, clock)
	roundID := activeRound(store, clock.Now())

	const users = 50
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		player := survivor(store, fmt.Sprintf("player-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := app.Tap(context.Background(), roundID, player); err != nil {
				t.Errorf("tap failed: %v", err)
			}
		}()
	}
	wg.Wait()

	round, _ := store.GetRound(context.Background(), roundID)
	if round.TotalScore != users {
		t.Errorf("round total = %d, want %d", round.TotalScore, users)
	}
	scores, _ := store.ListParticipants(context.Background(), roundID)
	if len(scores) != users {
		t.Errorf("participant rows = %d, want %d", len(scores), users)
	}
}

func TestTapConcurrentSameUserSingleRow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore()
	app := newTestApp(store, clock)
	roundID := activeRound(store, clock.Now())
	player := survivor(store, "carol")

	const taps = 33
	var wg sync.WaitGroup
	for i := 0; i < taps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := app.Tap(context.Background(), roundID, player); err != nil {
				t.Errorf("tap failed: %v", err)
			}
		}()
	}
	wg.Wait()

	scores, _ := store.ListParticipants(context.Background(), roundID)
	if len(scores) != 1 {
		t.Fatalf("participant rows = %d, want 1", len(scores))
	}
	// 30 regular taps, 3 bonus taps.
	if scores[0].Taps != taps || scores[0].Score != 60 {
		t.Errorf("got taps=%d score=%d, want taps=%d score=60", scores[0].Taps, scores[0].Score, taps)
	}
}

func TestCreateRoundRequiresAdmin(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := newFakeStore()
	app := newTestApp(store, clock)

	if _, err := app.CreateRound(context.Background(), survivor(store, "dave")); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("survivor create: got %v, want ErrUnauthorized", err)
	}
	if _, err := app.CreateRound(context.Background(), nil); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("anonymous create: got %v, want ErrUnauthorized", err)
	}

	admin := &models.User{ID: uuid.New(), Username: "admin", Role: models.UserRoleAdmin}
	round, err := app.CreateRound(context.Background(), admin)
	if err != nil {
		t.Fatalf("admin create failed: %v", err)
	}

	wantStart := clock.Now().UTC().Add(30 * time.Second)
	if !round.StartAt.Equal(wantStart) {
		t.Errorf("startAt = %v, want %v", round.StartAt, wantStart)
	}
	if !round.EndAt.Equal(wantStart.Add(time.Minute)) {
		t.Errorf("endAt = %v, want %v", round.EndAt, wantStart.Add(time.Minute))
	}
	if round.Status != models.RoundStatusCooldown {
		t.Errorf("status = %v, want cooldown", round.Status)
	}
}

func TestGetRoundSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore()
	app := newTestApp(store, clock)
	roundID := activeRound(store, clock.Now())
	alice := survivor(store, "alice")
	bob := survivor(store, "bob")

	for i := 0; i < 11; i++ {
		if _, err := app.Tap(context.Background(), roundID, alice); err != nil {
			t.Fatalf("tap failed: %v", err)
		}
	}
	if _, err := app.Tap(context.Background(), roundID, bob); err != nil {
		t.Fatalf("tap failed: %v", err)
	}

	details, err := app.GetRound(context.Background(), roundID, bob.ID)
	if err != nil {
		t.Fatalf("get round failed: %v", err)
	}
	if details.MyScore != 1 || details.MyTaps != 1 {
		t.Errorf("bob snapshot = score %d taps %d, want 1/1", details.MyScore, details.MyTaps)
	}
	if details.Status != models.RoundStatusActive {
		t.Errorf("status = %v, want active", details.Status)
	}
	if details.Winner != nil {
		t.Errorf("active round has winner %+v", details.Winner)
	}

	// Anonymous snapshot carries zero personal counters.
	details, err = app.GetRound(context.Background(), roundID, uuid.Nil)
	if err != nil {
		t.Fatalf("get round failed: %v", err)
	}
	if details.MyScore != 0 || details.MyTaps != 0 {
		t.Errorf("anonymous snapshot = score %d taps %d, want 0/0", details.MyScore, details.MyTaps)
	}

	// Winner appears once the round is over.
	clock.Advance(2 * time.Minute)
	details, err = app.GetRound(context.Background(), roundID, alice.ID)
	if err != nil {
		t.Fatalf("get round failed: %v", err)
	}
	if details.Status != models.RoundStatusFinished {
		t.Errorf("status = %v, want finished", details.Status)
	}
	if details.Winner == nil || details.Winner.Username != "alice" || details.Winner.Score != 20 {
		t.Errorf("winner = %+v, want alice with 20", details.Winner)
	}
}

func TestListRoundsPagination(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore()
	app := newTestApp(store, clock)

	for i := 0; i < 25; i++ {
		store.addRound(models.Round{
			ID:      uuid.New(),
			StartAt: clock.Now(),
			EndAt:   clock.Now().Add(time.Minute),
		})
	}

	page, err := app.ListRounds(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Items) != 10 || page.Total != 25 || page.TotalPages != 3 {
		t.Errorf("page 1 = %d items, total %d, pages %d; want 10/25/3", len(page.Items), page.Total, page.TotalPages)
	}

	page, err = app.ListRounds(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Items) != 5 {
		t.Errorf("page 3 = %d items, want 5", len(page.Items))
	}

	// Out-of-range parameters fall back to sane defaults.
	page, err = app.ListRounds(context.Background(), 0, -1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if page.Page != 1 || page.Limit != defaultPageLimit {
		t.Errorf("normalized page/limit = %d/%d, want 1/%d", page.Page, page.Limit, defaultPageLimit)
	}

	page, err = app.ListRounds(context.Background(), 1, 10_000)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if page.Limit != maxPageLimit {
		t.Errorf("limit = %d, want clamp to %d", page.Limit, maxPageLimit)
	}
}

func TestListRoundsEmptyStore(t *testing.T) {
	clock := clockwork.NewFakeClock()
	app := newTestApp(newFakeStore(), clock)

	page, err := app.ListRounds(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if page.Total != 0 || page.TotalPages != 1 || len(page.Items) != 0 {
		t.Errorf("empty page = %+v, want total 0, pages 1, no items", page)
	}
}

func TestPickWinner(t *testing.T) {
	tests := []struct {
		name         string
		participants []ParticipantScore
		want         string
	}{
		{"empty", nil, ""},
		{"all zero", []ParticipantScore{{Username: "a"}, {Username: "b"}}, ""},
		{"single", []ParticipantScore{{Username: "a", Score: 5}}, "a"},
		{
			"tie keeps stored order",
			[]ParticipantScore{
				{Username: "first", Score: 30},
				{Username: "second", Score: 30},
				{Username: "third", Score: 10},
			},
			"first",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner := PickWinner(tt.participants)
			if tt.want == "" {
				if winner != nil {
					t.Errorf("got winner %+v, want none", winner)
				}
				return
			}
			if winner == nil || winner.Username != tt.want {
				t.Errorf("got winner %+v, want %q", winner, tt.want)
			}
		})
	}
}

func TestPickWinnerDoesNotMutateInput(t *testing.T) {
	participants := []ParticipantScore{
		{Username: "low", Score: 1},
		{Username: "high", Score: 9},
	}
	PickWinner(participants)
	if participants[0].Username != "low" {
		t.Errorf("input slice reordered: %+v", participants)
	}
}
