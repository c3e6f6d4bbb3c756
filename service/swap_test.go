package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kevinaaaquil/bookswap/models"
	"github.com/kevinaaaquil/bookswap/store"
	"github.com/kevinaaaquil/bookswap/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type sentMail struct {
	To, Subject string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject})
	return m.err
}

type fixture struct {
	ctx     context.Context
	db      *store.Memory
	mailer  *recordingMailer
	swaps   *SwapService
	reviews *ReviewService
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		db:     store.NewMemory(),
		mailer: &recordingMailer{},
		now:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := utils.Discard()
	f.swaps = NewSwapService(f.db, NewNotifier(f.mailer, f.db, logger), logger, models.DefaultSwapTTL)
	f.swaps.Now = func() time.Time { return f.now }
	f.reviews = NewReviewService(f.db, logger)
	f.reviews.Now = func() time.Time { return f.now }
	return f
}

func (f *fixture) user(t *testing.T, email string) primitive.ObjectID {
	t.Helper()
	id, err := f.db.CreateUser(f.ctx, &models.User{Name: email, Email: email, Role: models.RoleUser, IsActive: true})
	require.NoError(t, err)
	return id
}

func (f *fixture) book(t *testing.T, owner primitive.ObjectID, title string) primitive.ObjectID {
	t.Helper()
	id, err := f.db.InsertBook(f.ctx, &models.Book{
		Title:       title,
		Author:      "Author",
		Condition:   models.ConditionGood,
		Owner:       owner,
		IsAvailable: true,
		IsActive:    true,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) mustBook(t *testing.T, id primitive.ObjectID) *models.Book {
	t.Helper()
	b, err := f.db.BookByID(f.ctx, id)
	require.NoError(t, err)
	return b
}

func (f *fixture) mustUser(t *testing.T, id primitive.ObjectID) *models.User {
	t.Helper()
	u, err := f.db.UserByID(f.ctx, id)
	require.NoError(t, err)
	return u
}

func (f *fixture) mustSwap(t *testing.T, id primitive.ObjectID) *models.Swap {
	t.Helper()
	s, err := f.db.SwapByID(f.ctx, id)
	require.NoError(t, err)
	return s
}

// pendingSwap returns owner A with book X, requester B with book Y and B's pending request.
func (f *fixture) pendingSwap(t *testing.T) (a, b, x, y primitive.ObjectID, swap *models.Swap) {
	t.Helper()
	a = f.user(t, "a@example.com")
	b = f.user(t, "b@example.com")
	x = f.book(t, a, "Book X")
	y = f.book(t, b, "Book Y")
	swap, err := f.swaps.Create(f.ctx, b, CreateSwapInput{RequestedBookID: x, OfferedBookID: y, Message: "trade?"})
	require.NoError(t, err)
	return a, b, x, y, swap
}

func TestSwapFullLifecycleWithReviews(t *testing.T) {
	f := newFixture(t)
	a, b, x, y, swap := f.pendingSwap(t)

	assert.Equal(t, models.SwapPending, swap.Status)
	assert.Equal(t, a, swap.Owner)
	assert.Equal(t, f.now.Add(models.DefaultSwapTTL), swap.ExpiresAt)
	assert.True(t, f.mustBook(t, x).IsAvailable)
	assert.True(t, f.mustBook(t, y).IsAvailable)

	loc := "Library"
	accepted, err := f.swaps.Accept(f.ctx, a, swap.ID, RespondInput{MeetingLocation: &loc})
	require.NoError(t, err)
	assert.Equal(t, models.SwapAccepted, accepted.Status)
	assert.Equal(t, "Library", accepted.MeetingLocation)
	assert.False(t, f.mustBook(t, x).IsAvailable)
	assert.False(t, f.mustBook(t, y).IsAvailable)

	completed, err := f.swaps.Complete(f.ctx, b, swap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	assert.Equal(t, 1, f.mustBook(t, x).SwapCount)
	assert.Equal(t, 1, f.mustBook(t, y).SwapCount)
	assert.False(t, f.mustBook(t, x).IsAvailable)
	assert.Equal(t, 1, f.mustUser(t, a).TotalSwaps)
	assert.Equal(t, 1, f.mustUser(t, b).TotalSwaps)

	_, err = f.reviews.Create(f.ctx, b, CreateReviewInput{SwapID: swap.ID, RevieweeID: a, Rating: 4})
	require.NoError(t, err)
	assert.Equal(t, 4.0, f.mustUser(t, a).Rating)
	assert.Equal(t, 1, f.mustUser(t, a).TotalRatings)

	_, err = f.reviews.Create(f.ctx, a, CreateReviewInput{SwapID: swap.ID, RevieweeID: b, Rating: 5})
	require.NoError(t, err)
	assert.Equal(t, 5.0, f.mustUser(t, b).Rating)

	f.mailer.mu.Lock()
	defer f.mailer.mu.Unlock()
	require.Len(t, f.mailer.sent, 3)
	assert.Equal(t, "a@example.com", f.mailer.sent[0].To)
	assert.Equal(t, "b@example.com", f.mailer.sent[1].To)
	assert.Equal(t, "a@example.com", f.mailer.sent[2].To)
	assert.Len(t, f.db.EmailLogs(), 3)
}

func TestCreateSwapOfferingForeignBookForbidden(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a@example.com")
	c := f.user(t, "c@example.com")
	x := f.book(t, a, "Book X")
	other := f.book(t, f.user(t, "d@example.com"), "Not C's")

	_, err := f.swaps.Create(f.ctx, c, CreateSwapInput{RequestedBookID: x, OfferedBookID: other})
	assert.ErrorIs(t, err, ErrForbidden)

	_, total, err := f.db.ListSwaps(f.ctx, models.SwapFilter{Participant: c})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCreateSwapValidation(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a@example.com")
	b := f.user(t, "b@example.com")
	x := f.book(t, a, "Book X")
	y := f.book(t, b, "Book Y")
	y2 := f.book(t, b, "Book Y2")
	orphan := f.book(t, primitive.NilObjectID, "Anonymous")

	cases := []struct {
		name  string
		actor primitive.ObjectID
		in    CreateSwapInput
		want  error
	}{
		{"missing ids", b, CreateSwapInput{}, ErrInvalidInput},
		{"same book", b, CreateSwapInput{RequestedBookID: y, OfferedBookID: y}, ErrInvalidInput},
		{"unknown requested", b, CreateSwapInput{RequestedBookID: primitive.NewObjectID(), OfferedBookID: y}, ErrNotFound},
		{"own requested book", b, CreateSwapInput{RequestedBookID: y2, OfferedBookID: y}, ErrForbidden},
		{"ownerless requested book", b, CreateSwapInput{RequestedBookID: orphan, OfferedBookID: y}, ErrPreconditionFailed},
		{"message too long", b, CreateSwapInput{RequestedBookID: x, OfferedBookID: y, Message: string(make([]byte, 501))}, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.swaps.Create(f.ctx, tc.actor, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateSwapRequiresAvailableBooksAndActiveOwner(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a@example.com")
	b := f.user(t, "b@example.com")
	x := f.book(t, a, "Book X")
	y := f.book(t, b, "Book Y")

	require.NoError(t, f.db.SetBooksAvailability(f.ctx, []primitive.ObjectID{x}, false))
	_, err := f.swaps.Create(f.ctx, b, CreateSwapInput{RequestedBookID: x, OfferedBookID: y})
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	require.NoError(t, f.db.SetBooksAvailability(f.ctx, []primitive.ObjectID{x}, true))
	require.NoError(t, f.db.SetUserBlocked(f.ctx, a, true))
	_, err = f.swaps.Create(f.ctx, b, CreateSwapInput{RequestedBookID: x, OfferedBookID: y})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestCreateSwapDuplicateLiveConflict(t *testing.T) {
	f := newFixture(t)
	_, b, x, y, swap := f.pendingSwap(t)

	_, err := f.swaps.Create(f.ctx, b, CreateSwapInput{RequestedBookID: x, OfferedBookID: y})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.swaps.Cancel(f.ctx, b, swap.ID)
	require.NoError(t, err)
	_, err = f.swaps.Create(f.ctx, b, CreateSwapInput{RequestedBookID: x, OfferedBookID: y})
	assert.NoError(t, err)
}

func TestAcceptExpiredKeepsPending(t *testing.T) {
	f := newFixture(t)
	a, _, x, _, swap := f.pendingSwap(t)

	f.now = swap.ExpiresAt
	_, err := f.swaps.Accept(f.ctx, a, swap.ID, RespondInput{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, ErrSwapExpired)

	stored := f.mustSwap(t, swap.ID)
	assert.Equal(t, models.SwapPending, stored.Status)
	assert.True(t, stored.View(f.now).IsExpired)
	assert.True(t, f.mustBook(t, x).IsAvailable)

	expired, total, err := f.swaps.ListExpired(f.ctx, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, swap.ID, expired[0].ID)
}

func TestAcceptGuards(t *testing.T) {
	f := newFixture(t)
	a, b, x, _, swap := f.pendingSwap(t)

	_, err := f.swaps.Accept(f.ctx, b, swap.ID, RespondInput{})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.swaps.Accept(f.ctx, a, primitive.NewObjectID(), RespondInput{})
	assert.ErrorIs(t, err, ErrNotFound)

	past := f.now.Add(-time.Hour)
	_, err = f.swaps.Accept(f.ctx, a, swap.ID, RespondInput{MeetingDate: &past})
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, f.db.SoftDeleteBook(f.ctx, x))
	_, err = f.swaps.Accept(f.ctx, a, swap.ID, RespondInput{})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Equal(t, models.SwapPending, f.mustSwap(t, swap.ID).Status)
}

func TestAcceptSecondSwapOnSameBookRejected(t *testing.T) {
	f := newFixture(t)
	a, b, x, _, first := f.pendingSwap(t)
	c := f.user(t, "c@example.com")
	z := f.book(t, c, "Book Z")
	second, err := f.swaps.Create(f.ctx, c, CreateSwapInput{RequestedBookID: x, OfferedBookID: z})
	require.NoError(t, err)

	_, err = f.swaps.Accept(f.ctx, a, first.ID, RespondInput{})
	require.NoError(t, err)
	_, err = f.swaps.Accept(f.ctx, a, second.ID, RespondInput{})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Equal(t, models.SwapPending, f.mustSwap(t, second.ID).Status)
	_ = b
}

func TestDeclineAndTerminalStates(t *testing.T) {
	f := newFixture(t)
	a, b, x, _, swap := f.pendingSwap(t)

	msg := "no thanks"
	declined, err := f.swaps.Decline(f.ctx, a, swap.ID, RespondInput{ResponseMessage: &msg})
	require.NoError(t, err)
	assert.Equal(t, models.SwapDeclined, declined.Status)
	assert.Equal(t, "no thanks", declined.ResponseMessage)
	assert.True(t, f.mustBook(t, x).IsAvailable)

	_, err = f.swaps.Accept(f.ctx, a, swap.ID, RespondInput{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.swaps.Cancel(f.ctx, b, swap.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.swaps.Complete(f.ctx, a, swap.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteTwiceRejected(t *testing.T) {
	f := newFixture(t)
	a, b, x, _, swap := f.pendingSwap(t)

	_, err := f.swaps.Complete(f.ctx, b, swap.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "pending swap cannot complete")

	_, err = f.swaps.Accept(f.ctx, a, swap.ID, RespondInput{})
	require.NoError(t, err)
	_, err = f.swaps.Complete(f.ctx, f.user(t, "stranger@example.com"), swap.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.swaps.Complete(f.ctx, a, swap.ID)
	require.NoError(t, err)
	_, err = f.swaps.Complete(f.ctx, b, swap.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 1, f.mustBook(t, x).SwapCount)
	assert.Equal(t, 1, f.mustUser(t, a).TotalSwaps)
}

func TestCancelAcceptedRestoresAvailability(t *testing.T) {
	f := newFixture(t)
	a, b, x, y, swap := f.pendingSwap(t)

	_, err := f.swaps.Accept(f.ctx, a, swap.ID, RespondInput{})
	require.NoError(t, err)

	_, err = f.swaps.Cancel(f.ctx, a, swap.ID)
	assert.ErrorIs(t, err, ErrForbidden, "only the requester cancels")

	cancelled, err := f.swaps.Cancel(f.ctx, b, swap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapCancelled, cancelled.Status)
	assert.True(t, f.mustBook(t, x).IsAvailable)
	assert.True(t, f.mustBook(t, y).IsAvailable)
	assert.Zero(t, f.mustBook(t, x).SwapCount)
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	f := newFixture(t)
	a, _, _, _, swap := f.pendingSwap(t)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.swaps.Accept(f.ctx, a, swap.ID, RespondInput{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrPreconditionFailed), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, models.SwapAccepted, f.mustSwap(t, swap.ID).Status)
}

func TestGetAndListSwaps(t *testing.T) {
	f := newFixture(t)
	a, b, _, _, swap := f.pendingSwap(t)
	stranger := f.user(t, "s@example.com")

	_, err := f.swaps.Get(f.ctx, stranger, swap.ID, false)
	assert.ErrorIs(t, err, ErrForbidden)
	got, err := f.swaps.Get(f.ctx, stranger, swap.ID, true)
	require.NoError(t, err)
	assert.Equal(t, swap.ID, got.ID)

	_, total, err := f.swaps.List(f.ctx, a, models.SwapRoleOwner, "", models.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	_, total, err = f.swaps.List(f.ctx, a, models.SwapRoleRequester, "", models.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	_, total, err = f.swaps.List(f.ctx, b, "", models.SwapPending, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, _, err = f.swaps.List(f.ctx, b, "bogus", "", models.Page{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = f.swaps.List(f.ctx, b, "", "lost", models.Page{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

type failingReservation struct {
	*store.Memory
}

func (failingReservation) ReserveBooks(context.Context, []primitive.ObjectID) error {
	return errors.New("write failed")
}

func TestAcceptReservationFailureSurfacesAndRevertsStatus(t *testing.T) {
	f := newFixture(t)
	a, _, x, y, swap := f.pendingSwap(t)
	svc := NewSwapService(failingReservation{f.db}, nil, utils.Discard(), 0)
	svc.Now = func() time.Time { return f.now }

	_, err := svc.Accept(f.ctx, a, swap.ID, RespondInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserve books")
	for _, sentinel := range []error{ErrNotFound, ErrForbidden, ErrInvalidTransition, ErrPreconditionFailed, ErrConflict, ErrInvalidInput} {
		assert.NotErrorIs(t, err, sentinel)
	}
	assert.Equal(t, models.SwapPending, f.mustSwap(t, swap.ID).Status)
	assert.True(t, f.mustBook(t, x).IsAvailable)
	assert.True(t, f.mustBook(t, y).IsAvailable)
}

// acceptBarrier holds every accept at the status write until n of them have arrived,
// so all of them pass the availability read before any book is reserved.
type acceptBarrier struct {
	*store.Memory
	arrived sync.WaitGroup
}

func (s *acceptBarrier) TransitionSwap(ctx context.Context, id primitive.ObjectID, from, to models.SwapStatus, ch models.SwapChanges, at time.Time) (*models.Swap, error) {
	if to == models.SwapAccepted {
		s.arrived.Done()
		s.arrived.Wait()
	}
	return s.Memory.TransitionSwap(ctx, id, from, to, ch, at)
}

func TestConcurrentAcceptOfSwapsSharingABook(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a@example.com")
	b := f.user(t, "b@example.com")
	c := f.user(t, "c@example.com")
	x := f.book(t, a, "Book X")
	y := f.book(t, b, "Book Y")
	z := f.book(t, c, "Book Z")
	s1, err := f.swaps.Create(f.ctx, b, CreateSwapInput{RequestedBookID: x, OfferedBookID: y})
	require.NoError(t, err)
	s2, err := f.swaps.Create(f.ctx, c, CreateSwapInput{RequestedBookID: x, OfferedBookID: z})
	require.NoError(t, err)

	barrier := &acceptBarrier{Memory: f.db}
	barrier.arrived.Add(2)
	svc := NewSwapService(barrier, nil, utils.Discard(), 0)
	svc.Now = func() time.Time { return f.now }

	ids := []primitive.ObjectID{s1.ID, s2.ID}
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id primitive.ObjectID) {
			defer wg.Done()
			_, errs[i] = svc.Accept(f.ctx, a, id, RespondInput{})
		}(i, id)
	}
	wg.Wait()

	winner, loser := 0, 1
	if errs[0] != nil {
		winner, loser = 1, 0
	}
	require.NoError(t, errs[winner])
	assert.ErrorIs(t, errs[loser], ErrPreconditionFailed)
	assert.Equal(t, models.SwapAccepted, f.mustSwap(t, ids[winner]).Status)
	assert.Equal(t, models.SwapPending, f.mustSwap(t, ids[loser]).Status)

	offered := map[primitive.ObjectID]primitive.ObjectID{s1.ID: y, s2.ID: z}
	assert.False(t, f.mustBook(t, x).IsAvailable)
	assert.False(t, f.mustBook(t, offered[ids[winner]]).IsAvailable)
	assert.True(t, f.mustBook(t, offered[ids[loser]]).IsAvailable)

	// once the winner is cancelled the book is free for the other request
	requesters := map[primitive.ObjectID]primitive.ObjectID{s1.ID: b, s2.ID: c}
	_, err = f.swaps.Cancel(f.ctx, requesters[ids[winner]], ids[winner])
	require.NoError(t, err)
	assert.True(t, f.mustBook(t, x).IsAvailable)
	_, err = f.swaps.Accept(f.ctx, a, ids[loser], RespondInput{})
	require.NoError(t, err)
	assert.False(t, f.mustBook(t, x).IsAvailable)
}

type failingCounts struct {
	*store.Memory
	tx bool
}

func (failingCounts) IncrementBookSwapCounts(context.Context, []primitive.ObjectID) error {
	return errors.New("write failed")
}

func (s failingCounts) Transactional() bool { return s.tx }

func TestSideEffectFailureLogReflectsTransactionMode(t *testing.T) {
	for _, tc := range []struct {
		tx   bool
		want string
	}{
		{false, "status persisted but increment book swap counts failed"},
		{true, "increment book swap counts failed, transaction rolled back"},
	} {
		f := newFixture(t)
		a, _, _, _, swap := f.pendingSwap(t)
		_, err := f.swaps.Accept(f.ctx, a, swap.ID, RespondInput{})
		require.NoError(t, err)

		var errLog bytes.Buffer
		svc := NewSwapService(failingCounts{Memory: f.db, tx: tc.tx}, nil, utils.NewLoggerTo(io.Discard, &errLog), 0)
		svc.Now = func() time.Time { return f.now }
		_, err = svc.Complete(f.ctx, a, swap.ID)
		require.Error(t, err)
		assert.Contains(t, errLog.String(), tc.want)
	}
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("smtp down")
	a, _, _, _, swap := f.pendingSwap(t)

	_, err := f.swaps.Accept(f.ctx, a, swap.ID, RespondInput{})
	require.NoError(t, err)
	logs := f.db.EmailLogs()
	require.NotEmpty(t, logs)
	assert.Equal(t, "smtp down", logs[len(logs)-1].Error)
}
