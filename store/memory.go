package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kevinaaaquil/bookswap/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Memory is an in-process Store for local development and tests.
// Every method holds one lock, so each call is atomic like a single-document update.
type Memory struct {
	mu        sync.Mutex
	books     map[primitive.ObjectID]models.Book
	users     map[primitive.ObjectID]models.User
	swaps     map[primitive.ObjectID]models.Swap
	reviews   map[primitive.ObjectID]models.Review
	emailLogs []models.EmailLog
}

func NewMemory() *Memory {
	return &Memory{
		books:   make(map[primitive.ObjectID]models.Book),
		users:   make(map[primitive.ObjectID]models.User),
		swaps:   make(map[primitive.ObjectID]models.Swap),
		reviews: make(map[primitive.ObjectID]models.Review),
	}
}

func (m *Memory) InsertBook(_ context.Context, book *models.Book) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := *book
	if b.ID.IsZero() {
		b.ID = primitive.NewObjectID()
	}
	m.books[b.ID] = b
	return b.ID, nil
}

func (m *Memory) BookByID(_ context.Context, id primitive.ObjectID) (*models.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *Memory) ListBooks(_ context.Context, f models.BookFilter) ([]models.Book, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(f.Search)
	var out []models.Book
	for _, b := range m.books {
		if !b.IsActive {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(b.Title), search) && !strings.Contains(strings.ToLower(b.Author), search) {
			continue
		}
		if f.Genre != "" && !strings.EqualFold(b.Genre, f.Genre) {
			continue
		}
		if f.Condition != "" && b.Condition != f.Condition {
			continue
		}
		if f.Language != "" && !strings.EqualFold(b.Language, f.Language) {
			continue
		}
		if !f.Owner.IsZero() && b.Owner != f.Owner {
			continue
		}
		if f.Available != nil && b.IsAvailable != *f.Available {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		switch f.Sort {
		case "oldest":
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		case "title":
			return out[i].Title < out[j].Title
		case "popular":
			if out[i].ViewCount != out[j].ViewCount {
				return out[i].ViewCount > out[j].ViewCount
			}
			return out[i].SwapCount > out[j].SwapCount
		default:
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
	})
	page, total := paginate(out, f.Page)
	return page, total, nil
}

func (m *Memory) UpdateBook(_ context.Context, id primitive.ObjectID, u models.BookUpdate) error {
	return m.mutateBook(id, func(b *models.Book) {
		if u.Title != nil {
			b.Title = *u.Title
		}
		if u.Author != nil {
			b.Author = *u.Author
		}
		if u.Genre != nil {
			b.Genre = *u.Genre
		}
		if u.ISBN != nil {
			b.ISBN = *u.ISBN
		}
		if u.Description != nil {
			b.Description = *u.Description
		}
		if u.Condition != nil {
			b.Condition = *u.Condition
		}
		if u.Language != nil {
			b.Language = *u.Language
		}
		b.UpdatedAt = time.Now()
	})
}

func (m *Memory) SetBookCover(_ context.Context, id primitive.ObjectID, s3Key, coverURL string) error {
	return m.mutateBook(id, func(b *models.Book) {
		b.CoverS3Key = s3Key
		b.CoverURL = coverURL
		b.UpdatedAt = time.Now()
	})
}

func (m *Memory) SoftDeleteBook(_ context.Context, id primitive.ObjectID) error {
	return m.mutateBook(id, func(b *models.Book) {
		b.IsActive = false
		b.UpdatedAt = time.Now()
	})
}

func (m *Memory) IncrementBookViews(_ context.Context, id primitive.ObjectID) error {
	return m.mutateBook(id, func(b *models.Book) { b.ViewCount++ })
}

func (m *Memory) SetBooksAvailability(_ context.Context, ids []primitive.ObjectID, available bool) error {
	return m.mutateBooks(ids, func(b *models.Book) error {
		b.IsAvailable = available
		b.UpdatedAt = time.Now()
		return nil
	})
}

func (m *Memory) ReserveBooks(_ context.Context, ids []primitive.ObjectID) error {
	return m.mutateBooks(ids, func(b *models.Book) error {
		if !b.Swappable() {
			return ErrBookUnavailable
		}
		b.IsAvailable = false
		b.UpdatedAt = time.Now()
		return nil
	})
}

func (m *Memory) IncrementBookSwapCounts(_ context.Context, ids []primitive.ObjectID) error {
	return m.mutateBooks(ids, func(b *models.Book) error {
		b.SwapCount++
		return nil
	})
}

// mutateBooks applies fn to every book under one lock. Nothing is written unless fn
// succeeds for all of them.
func (m *Memory) mutateBooks(ids []primitive.ObjectID, fn func(*models.Book) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make(map[primitive.ObjectID]models.Book, len(ids))
	for _, id := range ids {
		b, ok := next[id]
		if !ok {
			if b, ok = m.books[id]; !ok {
				return ErrNotFound
			}
		}
		if err := fn(&b); err != nil {
			return err
		}
		next[id] = b
	}
	for id, b := range next {
		m.books[id] = b
	}
	return nil
}

func (m *Memory) mutateBook(id primitive.ObjectID, fn func(*models.Book)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return ErrNotFound
	}
	fn(&b)
	m.books[id] = b
	return nil
}

func (m *Memory) CreateUser(_ context.Context, user *models.User) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return primitive.NilObjectID, ErrDuplicate
		}
	}
	u := *user
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	m.users[u.ID] = u
	return u.ID, nil
}

func (m *Memory) UserByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListUsers(_ context.Context, f models.UserFilter) ([]models.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(f.Search)
	var out []models.User
	for _, u := range m.users {
		if search != "" && !strings.Contains(strings.ToLower(u.Name), search) && !strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		if f.Blocked != nil && u.IsBlocked != *f.Blocked {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	page, total := paginate(out, f.Page)
	return page, total, nil
}

func (m *Memory) AllUserIDs(_ context.Context) ([]primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]primitive.ObjectID, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) UpdateProfile(_ context.Context, id primitive.ObjectID, p models.ProfileUpdate) error {
	return m.mutateUser(id, func(u *models.User) {
		if p.Name != nil {
			u.Name = *p.Name
		}
		if p.Bio != nil {
			u.Bio = *p.Bio
		}
		if p.Location != nil {
			u.Location = *p.Location
		}
		if p.Phone != nil {
			u.Phone = *p.Phone
		}
		if p.AvatarURL != nil {
			u.AvatarURL = *p.AvatarURL
		}
		u.UpdatedAt = time.Now()
	})
}

func (m *Memory) SetUserRole(_ context.Context, id primitive.ObjectID, role string) error {
	return m.mutateUser(id, func(u *models.User) { u.Role = role })
}

func (m *Memory) SetUserBlocked(_ context.Context, id primitive.ObjectID, blocked bool) error {
	return m.mutateUser(id, func(u *models.User) { u.IsBlocked = blocked })
}

func (m *Memory) SetUserActive(_ context.Context, id primitive.ObjectID, active bool) error {
	return m.mutateUser(id, func(u *models.User) { u.IsActive = active })
}

func (m *Memory) DeleteUser(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *Memory) TouchLastLogin(_ context.Context, id primitive.ObjectID, at time.Time) error {
	return m.mutateUser(id, func(u *models.User) { u.LastLogin = &at })
}

func (m *Memory) IncrementUserSwaps(_ context.Context, ids []primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			u.TotalSwaps++
			m.users[id] = u
		}
	}
	return nil
}

func (m *Memory) SetUserRating(_ context.Context, id primitive.ObjectID, rating float64, total int) error {
	return m.mutateUser(id, func(u *models.User) {
		u.Rating = rating
		u.TotalRatings = total
	})
}

func (m *Memory) AdminsCount(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.users {
		if u.Role == models.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func (m *Memory) mutateUser(id primitive.ObjectID, fn func(*models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(&u)
	m.users[id] = u
	return nil
}

func (m *Memory) InsertSwap(_ context.Context, swap *models.Swap) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *swap
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	m.swaps[s.ID] = s
	return s.ID, nil
}

func (m *Memory) SwapByID(_ context.Context, id primitive.ObjectID) (*models.Swap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.swaps[id]
	if !ok || !s.IsActive {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *Memory) ListSwaps(_ context.Context, f models.SwapFilter) ([]models.Swap, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Swap
	for _, s := range m.swaps {
		if !s.IsActive {
			continue
		}
		if !f.Participant.IsZero() {
			switch f.Role {
			case models.SwapRoleRequester:
				if s.Requester != f.Participant {
					continue
				}
			case models.SwapRoleOwner:
				if s.Owner != f.Participant {
					continue
				}
			default:
				if !s.HasParty(f.Participant) {
					continue
				}
			}
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.ExpiredBefore != nil && (s.Status != models.SwapPending || s.ExpiresAt.After(*f.ExpiredBefore)) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	page, total := paginate(out, f.Page)
	return page, total, nil
}

func (m *Memory) LiveSwapExists(_ context.Context, requester, requestedBook, offeredBook primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.swaps {
		if s.IsActive && s.Status.Live() && s.Requester == requester &&
			s.RequestedBook == requestedBook && s.OfferedBook == offeredBook {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) BookInLiveSwap(_ context.Context, bookID primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.swaps {
		if s.IsActive && s.Status.Live() && (s.RequestedBook == bookID || s.OfferedBook == bookID) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) TransitionSwap(_ context.Context, id primitive.ObjectID, from, to models.SwapStatus, ch models.SwapChanges, at time.Time) (*models.Swap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.swaps[id]
	if !ok || !s.IsActive {
		return nil, ErrNotFound
	}
	if s.Status != from {
		return nil, ErrStatusMismatch
	}
	s.Status = to
	s.UpdatedAt = at
	if ch.ResponseMessage != nil {
		s.ResponseMessage = *ch.ResponseMessage
	}
	if ch.MeetingLocation != nil {
		s.MeetingLocation = *ch.MeetingLocation
	}
	if ch.MeetingDate != nil {
		d := *ch.MeetingDate
		s.MeetingDate = &d
	}
	if ch.CompletedAt != nil {
		c := *ch.CompletedAt
		s.CompletedAt = &c
	}
	m.swaps[id] = s
	return &s, nil
}

func (m *Memory) InsertReview(_ context.Context, review *models.Review) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reviews {
		if r.Reviewer == review.Reviewer && r.Reviewee == review.Reviewee && r.Swap == review.Swap {
			return primitive.NilObjectID, ErrDuplicate
		}
	}
	r := *review
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	m.reviews[r.ID] = r
	return r.ID, nil
}

func (m *Memory) ReviewByID(_ context.Context, id primitive.ObjectID) (*models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[id]
	if !ok || !r.IsActive {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) ReviewExists(_ context.Context, reviewer, reviewee, swap primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reviews {
		if r.Reviewer == reviewer && r.Reviewee == reviewee && r.Swap == swap {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListReviews(_ context.Context, f models.ReviewFilter) ([]models.Review, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Review
	for _, r := range m.reviews {
		if !r.IsActive {
			continue
		}
		if !f.Reviewee.IsZero() && r.Reviewee != f.Reviewee {
			continue
		}
		if !f.Reviewer.IsZero() && r.Reviewer != f.Reviewer {
			continue
		}
		if !f.Swap.IsZero() && r.Swap != f.Swap {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	page, total := paginate(out, f.Page)
	return page, total, nil
}

func (m *Memory) UpdateReview(_ context.Context, id primitive.ObjectID, rating *int, comment *string, at time.Time) error {
	return m.mutateReview(id, func(r *models.Review) {
		if rating != nil {
			r.Rating = *rating
		}
		if comment != nil {
			r.Comment = *comment
		}
		r.UpdatedAt = at
	})
}

func (m *Memory) SoftDeleteReview(_ context.Context, id primitive.ObjectID, at time.Time) error {
	return m.mutateReview(id, func(r *models.Review) {
		r.IsActive = false
		r.UpdatedAt = at
	})
}

func (m *Memory) mutateReview(id primitive.ObjectID, fn func(*models.Review)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[id]
	if !ok || !r.IsActive {
		return ErrNotFound
	}
	fn(&r)
	m.reviews[id] = r
	return nil
}

func (m *Memory) RatingSummary(_ context.Context, reviewee primitive.ObjectID) (models.RatingSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum models.RatingSummary
	for _, r := range m.reviews {
		if r.IsActive && r.Reviewee == reviewee {
			sum.Sum += r.Rating
			sum.Count++
		}
	}
	return sum, nil
}

func (m *Memory) Stats(_ context.Context) (*models.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st models.Stats
	for _, u := range m.users {
		st.Users.Total++
		if u.IsActive {
			st.Users.Active++
		}
		if u.IsBlocked {
			st.Users.Blocked++
		}
	}
	for _, b := range m.books {
		if b.IsActive {
			st.Books.Active++
			if b.IsAvailable {
				st.Books.Available++
			}
		}
	}
	st.Swaps = emptySwapCounts()
	for _, s := range m.swaps {
		if s.IsActive {
			st.Swaps[s.Status]++
		}
	}
	for _, r := range m.reviews {
		if r.IsActive {
			st.ActiveReviews++
		}
	}
	return &st, nil
}

func (m *Memory) InsertEmailLog(_ context.Context, entry *models.EmailLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	m.emailLogs = append(m.emailLogs, *entry)
	return nil
}

func (m *Memory) SwapNotifications(_ context.Context, swapID primitive.ObjectID) ([]models.EmailLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logs := []models.EmailLog{}
	for _, l := range m.emailLogs {
		if l.SwapID == swapID {
			logs = append(logs, l)
		}
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].SentAt.Before(logs[j].SentAt) })
	return logs, nil
}

// EmailLogs returns a copy of the recorded notification log.
func (m *Memory) EmailLogs() []models.EmailLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.EmailLog(nil), m.emailLogs...)
}

func (m *Memory) Transactional() bool { return false }

// WithTransaction has no rollback; each call inside fn is individually atomic.
func (m *Memory) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func paginate[T any](items []T, p models.Page) ([]T, int64) {
	total := int64(len(items))
	skip := p.Skip()
	if skip >= total {
		return []T{}, total
	}
	end := skip + int64(p.Normalize().Limit)
	if end > total {
		end = total
	}
	return items[skip:end], total
}
