package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevinaaaquil/bookswap/models"
	"github.com/kevinaaaquil/bookswap/store"
	"github.com/kevinaaaquil/bookswap/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SwapStore is the persistence the workflow engine needs.
type SwapStore interface {
	BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	SetBooksAvailability(ctx context.Context, ids []primitive.ObjectID, available bool) error
	ReserveBooks(ctx context.Context, ids []primitive.ObjectID) error
	IncrementBookSwapCounts(ctx context.Context, ids []primitive.ObjectID) error
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	IncrementUserSwaps(ctx context.Context, ids []primitive.ObjectID) error
	InsertSwap(ctx context.Context, swap *models.Swap) (primitive.ObjectID, error)
	SwapByID(ctx context.Context, id primitive.ObjectID) (*models.Swap, error)
	ListSwaps(ctx context.Context, f models.SwapFilter) ([]models.Swap, int64, error)
	LiveSwapExists(ctx context.Context, requester, requestedBook, offeredBook primitive.ObjectID) (bool, error)
	TransitionSwap(ctx context.Context, id primitive.ObjectID, from, to models.SwapStatus, ch models.SwapChanges, at time.Time) (*models.Swap, error)
	InsertEmailLog(ctx context.Context, log *models.EmailLog) error
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Transactional() bool
}

type CreateSwapInput struct {
	RequestedBookID primitive.ObjectID `json:"-"`
	OfferedBookID   primitive.ObjectID `json:"-"`
	Message         string             `json:"message" validate:"max=500"`
}

type RespondInput struct {
	ResponseMessage *string    `json:"responseMessage" validate:"omitempty,max=500"`
	MeetingLocation *string    `json:"meetingLocation" validate:"omitempty,max=200"`
	MeetingDate     *time.Time `json:"meetingDate"`
}

// SwapService owns the swap state machine and the book/user side effects of each transition.
//
// Every transition is a compare-and-set on the stored status. Side effects run after the
// status write, in the order status, book availability, counters; a failing side effect is
// surfaced to the caller instead of being swallowed.
type SwapService struct {
	store    SwapStore
	notifier *Notifier
	log      *utils.Logger
	ttl      time.Duration
	Now      func() time.Time
}

func NewSwapService(st SwapStore, notifier *Notifier, logger *utils.Logger, ttl time.Duration) *SwapService {
	if ttl <= 0 {
		ttl = models.DefaultSwapTTL
	}
	return &SwapService{
		store:    st,
		notifier: notifier,
		log:      logger,
		ttl:      ttl,
		Now:      time.Now,
	}
}

// Create opens a pending swap: requesterID offers in.OfferedBookID for in.RequestedBookID.
func (s *SwapService) Create(ctx context.Context, requesterID primitive.ObjectID, in CreateSwapInput) (*models.Swap, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	if in.RequestedBookID.IsZero() || in.OfferedBookID.IsZero() {
		return nil, fmt.Errorf("%w: requestedBookId and offeredBookId are required", ErrInvalidInput)
	}
	if in.RequestedBookID == in.OfferedBookID {
		return nil, fmt.Errorf("%w: a book cannot be swapped for itself", ErrInvalidInput)
	}

	requested, err := s.book(ctx, in.RequestedBookID)
	if err != nil {
		return nil, err
	}
	offered, err := s.book(ctx, in.OfferedBookID)
	if err != nil {
		return nil, err
	}
	if !offered.OwnedBy(requesterID) {
		return nil, fmt.Errorf("%w: you can only offer books you own", ErrForbidden)
	}
	if requested.OwnedBy(requesterID) {
		return nil, fmt.Errorf("%w: you cannot request your own book", ErrForbidden)
	}
	if !requested.HasOwner() {
		return nil, fmt.Errorf("%w: requested book has no registered owner", ErrPreconditionFailed)
	}
	if err := requireSwappable(requested, offered); err != nil {
		return nil, err
	}

	owner, err := s.store.UserByID(ctx, requested.Owner)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: owner of the requested book no longer exists", ErrPreconditionFailed)
	}
	if err != nil {
		return nil, err
	}
	if !owner.IsActive || owner.IsBlocked {
		return nil, fmt.Errorf("%w: owner of the requested book is not accepting swaps", ErrPreconditionFailed)
	}

	exists, err := s.store.LiveSwapExists(ctx, requesterID, requested.ID, offered.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: an open swap request for these books already exists", ErrConflict)
	}

	now := s.Now()
	swap := &models.Swap{
		Requester:     requesterID,
		Owner:         requested.Owner,
		RequestedBook: requested.ID,
		OfferedBook:   offered.ID,
		Status:        models.SwapPending,
		Message:       in.Message,
		ExpiresAt:     now.Add(s.ttl),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	id, err := s.store.InsertSwap(ctx, swap)
	if err != nil {
		return nil, err
	}
	swap.ID = id
	s.log.Info("swap %s created: requester=%s owner=%s", id.Hex(), requesterID.Hex(), swap.Owner.Hex())
	s.notifier.SwapEvent(ctx, swap, EventSwapRequested, swap.Owner)
	return swap, nil
}

// Accept moves pending -> accepted and takes both books off the market.
// Expiry is checked here and only here; an expired request stays pending in storage.
// The availability check above the write is advisory: the reservation itself is conditional,
// and a swap that loses the race for a book goes back to pending.
func (s *SwapService) Accept(ctx context.Context, actorID, swapID primitive.ObjectID, in RespondInput) (*models.Swap, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	swap, err := s.swap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if swap.Owner != actorID {
		return nil, fmt.Errorf("%w: only the owner of the requested book can accept", ErrForbidden)
	}
	if swap.Status != models.SwapPending {
		return nil, invalidTransition(swap.Status, models.SwapAccepted)
	}
	now := s.Now()
	if swap.IsExpired(now) {
		return nil, ErrSwapExpired
	}
	if in.MeetingDate != nil && in.MeetingDate.Before(now) {
		return nil, fmt.Errorf("%w: meetingDate must be in the future", ErrInvalidInput)
	}
	requested, err := s.book(ctx, swap.RequestedBook)
	if err != nil {
		return nil, err
	}
	offered, err := s.book(ctx, swap.OfferedBook)
	if err != nil {
		return nil, err
	}
	if err := requireSwappable(requested, offered); err != nil {
		return nil, err
	}

	ch := models.SwapChanges{
		ResponseMessage: in.ResponseMessage,
		MeetingLocation: in.MeetingLocation,
		MeetingDate:     in.MeetingDate,
	}
	var updated *models.Swap
	var reserveErr error
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		reserveErr = nil
		if updated, err = s.transition(ctx, swap, models.SwapAccepted, ch, now); err != nil {
			return err
		}
		if reserveErr = s.store.ReserveBooks(ctx, swap.BookIDs()); reserveErr != nil {
			return reserveErr
		}
		return nil
	})
	if reserveErr != nil {
		s.revertAccept(ctx, swap)
		if errors.Is(reserveErr, store.ErrBookUnavailable) {
			return nil, fmt.Errorf("%w: a book in this swap was reserved by another swap", ErrPreconditionFailed)
		}
		s.log.Error("swap %s: reserve books failed, swap left pending: %v", swap.ID.Hex(), reserveErr)
		return nil, fmt.Errorf("swap %s: reserve books: %w", swap.ID.Hex(), reserveErr)
	}
	if err != nil {
		return nil, err
	}
	s.notifier.SwapEvent(ctx, updated, EventSwapAccepted, updated.Requester)
	return updated, nil
}

// Decline moves pending -> declined. Books were never reserved, so nothing else changes.
func (s *SwapService) Decline(ctx context.Context, actorID, swapID primitive.ObjectID, in RespondInput) (*models.Swap, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	swap, err := s.swap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if swap.Owner != actorID {
		return nil, fmt.Errorf("%w: only the owner of the requested book can decline", ErrForbidden)
	}
	if swap.Status != models.SwapPending {
		return nil, invalidTransition(swap.Status, models.SwapDeclined)
	}
	updated, err := s.transition(ctx, swap, models.SwapDeclined, models.SwapChanges{ResponseMessage: in.ResponseMessage}, s.Now())
	if err != nil {
		return nil, err
	}
	s.notifier.SwapEvent(ctx, updated, EventSwapDeclined, updated.Requester)
	return updated, nil
}

// Complete moves accepted -> completed and bumps swap counters on both books and both users.
// Books stay unavailable.
func (s *SwapService) Complete(ctx context.Context, actorID, swapID primitive.ObjectID) (*models.Swap, error) {
	swap, err := s.swap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if !swap.HasParty(actorID) {
		return nil, fmt.Errorf("%w: only the swap parties can complete it", ErrForbidden)
	}
	if swap.Status != models.SwapAccepted {
		return nil, invalidTransition(swap.Status, models.SwapCompleted)
	}
	now := s.Now()
	var updated *models.Swap
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if updated, err = s.transition(ctx, swap, models.SwapCompleted, models.SwapChanges{CompletedAt: &now}, now); err != nil {
			return err
		}
		if err := s.store.IncrementBookSwapCounts(ctx, swap.BookIDs()); err != nil {
			return s.sideEffectFailed(swap, "increment book swap counts", err)
		}
		if err := s.store.IncrementUserSwaps(ctx, swap.PartyIDs()); err != nil {
			return s.sideEffectFailed(swap, "increment user swap totals", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.SwapEvent(ctx, updated, EventSwapCompleted, updated.Counterpart(actorID))
	return updated, nil
}

// Cancel moves pending|accepted -> cancelled. Cancelling an accepted swap puts both books back.
func (s *SwapService) Cancel(ctx context.Context, actorID, swapID primitive.ObjectID) (*models.Swap, error) {
	swap, err := s.swap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if swap.Requester != actorID {
		return nil, fmt.Errorf("%w: only the requester can cancel", ErrForbidden)
	}
	if !swap.Status.Live() {
		return nil, invalidTransition(swap.Status, models.SwapCancelled)
	}
	wasAccepted := swap.Status == models.SwapAccepted
	var updated *models.Swap
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if updated, err = s.transition(ctx, swap, models.SwapCancelled, models.SwapChanges{}, s.Now()); err != nil {
			return err
		}
		if wasAccepted {
			if err := s.store.SetBooksAvailability(ctx, swap.BookIDs(), true); err != nil {
				return s.sideEffectFailed(swap, "restore book availability", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.SwapEvent(ctx, updated, EventSwapCancelled, updated.Owner)
	return updated, nil
}

// Get returns a swap visible to one of its parties or to an admin.
func (s *SwapService) Get(ctx context.Context, actorID, swapID primitive.ObjectID, isAdmin bool) (*models.Swap, error) {
	swap, err := s.swap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !swap.HasParty(actorID) {
		return nil, fmt.Errorf("%w: not a party to this swap", ErrForbidden)
	}
	return swap, nil
}

// List returns the actor's swaps filtered by role and status.
func (s *SwapService) List(ctx context.Context, actorID primitive.ObjectID, role string, status models.SwapStatus, page models.Page) ([]models.Swap, int64, error) {
	switch role {
	case "", models.SwapRoleAll, models.SwapRoleRequester, models.SwapRoleOwner:
	default:
		return nil, 0, fmt.Errorf("%w: role must be requester, owner or all", ErrInvalidInput)
	}
	if status != "" && !models.IsValidSwapStatus(string(status)) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.store.ListSwaps(ctx, models.SwapFilter{Participant: actorID, Role: role, Status: status, Page: page})
}

// ListExpired reports pending swaps past their expiry. It never changes their status.
func (s *SwapService) ListExpired(ctx context.Context, page models.Page) ([]models.Swap, int64, error) {
	now := s.Now()
	return s.store.ListSwaps(ctx, models.SwapFilter{ExpiredBefore: &now, Page: page})
}

func (s *SwapService) transition(ctx context.Context, swap *models.Swap, to models.SwapStatus, ch models.SwapChanges, at time.Time) (*models.Swap, error) {
	if !models.CanTransition(swap.Status, to) {
		return nil, invalidTransition(swap.Status, to)
	}
	updated, err := s.store.TransitionSwap(ctx, swap.ID, swap.Status, to, ch, at)
	switch {
	case errors.Is(err, store.ErrStatusMismatch):
		return nil, fmt.Errorf("%w: swap was modified by another request, reload and retry", ErrInvalidTransition)
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: swap %s", ErrNotFound, swap.ID.Hex())
	case err != nil:
		return nil, err
	}
	s.log.Info("swap %s: %s -> %s", swap.ID.Hex(), swap.Status, to)
	return updated, nil
}

// revertAccept undoes the status write of an accept whose reservation failed.
// With transactions the rollback already did it.
func (s *SwapService) revertAccept(ctx context.Context, swap *models.Swap) {
	if s.store.Transactional() {
		return
	}
	ch := models.SwapChanges{
		ResponseMessage: &swap.ResponseMessage,
		MeetingLocation: &swap.MeetingLocation,
	}
	_, err := s.store.TransitionSwap(ctx, swap.ID, models.SwapAccepted, models.SwapPending, ch, s.Now())
	if err != nil && !errors.Is(err, store.ErrStatusMismatch) {
		s.log.Error("swap %s: revert to pending after failed reservation: %v", swap.ID.Hex(), err)
		return
	}
	s.log.Info("swap %s: reservation failed, back to pending", swap.ID.Hex())
}

func (s *SwapService) sideEffectFailed(swap *models.Swap, what string, err error) error {
	if s.store.Transactional() {
		s.log.Error("swap %s: %s failed, transaction rolled back: %v", swap.ID.Hex(), what, err)
	} else {
		s.log.Error("swap %s: status persisted but %s failed: %v", swap.ID.Hex(), what, err)
	}
	return fmt.Errorf("swap %s: %s: %w", swap.ID.Hex(), what, err)
}

func (s *SwapService) swap(ctx context.Context, id primitive.ObjectID) (*models.Swap, error) {
	swap, err := s.store.SwapByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: swap %s", ErrNotFound, id.Hex())
	}
	return swap, err
}

func (s *SwapService) book(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	b, err := s.store.BookByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: book %s", ErrNotFound, id.Hex())
	}
	return b, err
}

func requireSwappable(books ...*models.Book) error {
	for _, b := range books {
		if b.Swappable() {
			continue
		}
		if !b.IsActive {
			return fmt.Errorf("%w: book %q has been removed", ErrPreconditionFailed, b.Title)
		}
		if !b.IsAvailable {
			return fmt.Errorf("%w: book %q is not available", ErrPreconditionFailed, b.Title)
		}
	}
	return nil
}
