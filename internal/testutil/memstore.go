// internal/testutil/memstore.go
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	applicationstore "github.com/dalemusser/unchainme/internal/app/store/applications"
	challengestore "github.com/dalemusser/unchainme/internal/app/store/challenges"
	companystore "github.com/dalemusser/unchainme/internal/app/store/companies"
	"github.com/dalemusser/unchainme/internal/app/store/emailconfirm"
	invitationstore "github.com/dalemusser/unchainme/internal/app/store/invitations"
	membershipstore "github.com/dalemusser/unchainme/internal/app/store/memberships"
	taskstore "github.com/dalemusser/unchainme/internal/app/store/tasks"
	userstore "github.com/dalemusser/unchainme/internal/app/store/users"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// The Mem* types mirror the Mongo stores closely enough for service and
// handler tests: same method sets, same sentinel errors, same
// compare-and-set rules.

// MemUsers is an in-memory users store.
type MemUsers struct {
	mu   sync.Mutex
	rows map[primitive.ObjectID]models.User
}

func NewMemUsers() *MemUsers {
	return &MemUsers{rows: make(map[primitive.ObjectID]models.User)}
}

func (s *MemUsers) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.Email == u.Email {
			return userstore.ErrDuplicateEmail
		}
	}
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.rows[u.ID] = *u
	return nil
}

func (s *MemUsers) GetByID(_ context.Context, id primitive.ObjectID) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.rows[id]
	if !ok {
		return models.User{}, userstore.ErrNotFound
	}
	return u, nil
}

func (s *MemUsers) GetByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.rows {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, userstore.ErrNotFound
}

func (s *MemUsers) GetMany(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[primitive.ObjectID]models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.rows[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (s *MemUsers) ConfirmEmail(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.rows[id]
	if !ok {
		return userstore.ErrNotFound
	}
	u.EmailConfirmed = true
	s.rows[id] = u
	return nil
}

func (s *MemUsers) LinkChannel(_ context.Context, email string, chatID int64) (models.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.rows {
		if u.Email != email {
			continue
		}
		if u.ChannelChatID != nil && *u.ChannelChatID == chatID {
			return u, false, nil
		}
		c := chatID
		u.ChannelChatID = &c
		u.UsedSecondFactorBefore = false
		s.rows[id] = u
		return u, true, nil
	}
	return models.User{}, false, userstore.ErrNotFound
}

func (s *MemUsers) MarkSecondFactorUsed(_ context.Context, id primitive.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.rows[id]
	if !ok || u.UsedSecondFactorBefore {
		return false, nil
	}
	u.UsedSecondFactorBefore = true
	s.rows[id] = u
	return true, nil
}

func (s *MemUsers) Delete(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return userstore.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

// MemCompanies is an in-memory companies store.
type MemCompanies struct {
	mu   sync.Mutex
	rows map[primitive.ObjectID]models.Company
}

func NewMemCompanies() *MemCompanies {
	return &MemCompanies{rows: make(map[primitive.ObjectID]models.Company)}
}

func (s *MemCompanies) Create(_ context.Context, c *models.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.NameCI = text.Fold(c.Name)
	for _, r := range s.rows {
		if r.OwnerID == c.OwnerID && r.NameCI == c.NameCI {
			return companystore.ErrDuplicateName
		}
	}
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.rows[c.ID] = *c
	return nil
}

func (s *MemCompanies) GetByID(_ context.Context, id primitive.ObjectID) (models.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return models.Company{}, companystore.ErrNotFound
	}
	return c, nil
}

func (s *MemCompanies) ExistsForOwner(_ context.Context, ownerID primitive.ObjectID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	folded := text.Fold(name)
	for _, r := range s.rows {
		if r.OwnerID == ownerID && r.NameCI == folded {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemCompanies) CountByOwner(_ context.Context, ownerID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (s *MemCompanies) GetMany(_ context.Context, ids []primitive.ObjectID) ([]models.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Company
	for _, id := range ids {
		if c, ok := s.rows[id]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NameCI < out[j].NameCI })
	return out, nil
}

func (s *MemCompanies) Delete(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return companystore.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

// MemMemberships is an in-memory memberships store.
type MemMemberships struct {
	mu   sync.Mutex
	rows []models.Membership
}

func NewMemMemberships() *MemMemberships { return &MemMemberships{} }

func (s *MemMemberships) Insert(_ context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.CompanyID == m.CompanyID && r.UserID == m.UserID {
			return membershipstore.ErrDuplicateMembership
		}
	}
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	s.rows = append(s.rows, *m)
	return nil
}

func (s *MemMemberships) FindMembership(_ context.Context, companyID, userID primitive.ObjectID) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.CompanyID == companyID && r.UserID == userID {
			m := r
			return &m, nil
		}
	}
	return nil, nil
}

func (s *MemMemberships) filter(keep func(models.Membership) bool) []models.Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Membership
	for _, r := range s.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemMemberships) ListForUser(_ context.Context, userID primitive.ObjectID) ([]models.Membership, error) {
	return s.filter(func(m models.Membership) bool { return m.UserID == userID && m.Accepted() }), nil
}

func (s *MemMemberships) ListForCompany(_ context.Context, companyID primitive.ObjectID) ([]models.Membership, error) {
	return s.filter(func(m models.Membership) bool { return m.CompanyID == companyID && m.Accepted() }), nil
}

func (s *MemMemberships) UserIDsWithRole(_ context.Context, companyID primitive.ObjectID, role models.Role) ([]primitive.ObjectID, error) {
	var ids []primitive.ObjectID
	for _, m := range s.filter(func(m models.Membership) bool {
		return m.CompanyID == companyID && m.Role == role && m.Accepted()
	}) {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

func (s *MemMemberships) CountRole(ctx context.Context, companyID primitive.ObjectID, role models.Role) (int64, error) {
	ids, _ := s.UserIDsWithRole(ctx, companyID, role)
	return int64(len(ids)), nil
}

func (s *MemMemberships) Delete(_ context.Context, companyID, userID primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rows {
		if r.CompanyID == companyID && r.UserID == userID {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return nil
		}
	}
	return membershipstore.ErrNotFound
}

func (s *MemMemberships) deleteWhere(match func(models.Membership) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var n int64
	for _, r := range s.rows {
		if match(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return n
}

func (s *MemMemberships) DeleteForCompany(_ context.Context, companyID primitive.ObjectID) (int64, error) {
	return s.deleteWhere(func(m models.Membership) bool { return m.CompanyID == companyID }), nil
}

func (s *MemMemberships) DeleteForUser(_ context.Context, userID primitive.ObjectID) (int64, error) {
	return s.deleteWhere(func(m models.Membership) bool { return m.UserID == userID }), nil
}

// MemInvitations is an in-memory invitations store.
type MemInvitations struct {
	mu   sync.Mutex
	rows map[primitive.ObjectID]models.Invitation
}

func NewMemInvitations() *MemInvitations {
	return &MemInvitations{rows: make(map[primitive.ObjectID]models.Invitation)}
}

func (s *MemInvitations) Create(_ context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID.IsZero() {
		inv.ID = primitive.NewObjectID()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	s.rows[inv.ID] = *inv
	return nil
}

func (s *MemInvitations) GetByID(_ context.Context, id primitive.ObjectID) (models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.rows[id]
	if !ok {
		return models.Invitation{}, invitationstore.ErrNotFound
	}
	return inv, nil
}

func (s *MemInvitations) pending(match func(models.Invitation) bool) []models.Invitation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Invitation
	for _, inv := range s.rows {
		if !inv.Accepted && match(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *MemInvitations) ListPendingForEmail(_ context.Context, email string) ([]models.Invitation, error) {
	return s.pending(func(inv models.Invitation) bool { return inv.Email == email }), nil
}

func (s *MemInvitations) ListPendingForCompany(_ context.Context, companyID primitive.ObjectID) ([]models.Invitation, error) {
	return s.pending(func(inv models.Invitation) bool { return inv.CompanyID == companyID }), nil
}

func (s *MemInvitations) MarkAccepted(_ context.Context, id primitive.ObjectID, at time.Time) (models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.rows[id]
	if !ok {
		return models.Invitation{}, invitationstore.ErrNotFound
	}
	if inv.Accepted {
		return models.Invitation{}, invitationstore.ErrAlreadyAccepted
	}
	inv.Accepted = true
	inv.AcceptedAt = &at
	s.rows[id] = inv
	return inv, nil
}

func (s *MemInvitations) DeletePending(_ context.Context, companyID, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.rows[id]
	if !ok || inv.CompanyID != companyID {
		return invitationstore.ErrNotFound
	}
	if inv.Accepted {
		return invitationstore.ErrAlreadyAccepted
	}
	delete(s.rows, id)
	return nil
}

func (s *MemInvitations) DeleteForCompany(_ context.Context, companyID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, inv := range s.rows {
		if inv.CompanyID == companyID {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// MemChallenges is an in-memory login challenge store.
type MemChallenges struct {
	mu   sync.Mutex
	rows map[primitive.ObjectID]models.LoginChallenge
}

func NewMemChallenges() *MemChallenges {
	return &MemChallenges{rows: make(map[primitive.ObjectID]models.LoginChallenge)}
}

func (s *MemChallenges) Create(_ context.Context, c *models.LoginChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	s.rows[c.ID] = *c
	return nil
}

func (s *MemChallenges) Get(_ context.Context, id primitive.ObjectID) (models.LoginChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return models.LoginChallenge{}, challengestore.ErrNotFound
	}
	return c, nil
}

// Put overwrites a challenge. Tests use it to age or tamper with rows.
func (s *MemChallenges) Put(c models.LoginChallenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[c.ID] = c
}

func (s *MemChallenges) cas(id primitive.ObjectID, now time.Time, cond func(models.LoginChallenge) bool, apply func(*models.LoginChallenge)) (models.LoginChallenge, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return models.LoginChallenge{}, false, challengestore.ErrNotFound
	}
	if !c.ExpiresAt.After(now) || !cond(c) {
		return c, false, nil
	}
	apply(&c)
	s.rows[id] = c
	return c, true, nil
}

func undecided(c models.LoginChallenge) bool { return !c.Approved && !c.Rejected }

func (s *MemChallenges) Approve(_ context.Context, id primitive.ObjectID, now time.Time) (models.LoginChallenge, bool, error) {
	return s.cas(id, now, undecided, func(c *models.LoginChallenge) { c.Approved = true })
}

func (s *MemChallenges) Reject(_ context.Context, id primitive.ObjectID, now time.Time) (models.LoginChallenge, bool, error) {
	return s.cas(id, now, undecided, func(c *models.LoginChallenge) { c.Rejected = true })
}

func (s *MemChallenges) Consume(_ context.Context, id primitive.ObjectID, now time.Time) (models.LoginChallenge, bool, error) {
	return s.cas(id, now,
		func(c models.LoginChallenge) bool { return c.Approved && !c.Consumed },
		func(c *models.LoginChallenge) { c.Consumed = true })
}

func (s *MemChallenges) RotateCode(_ context.Context, id primitive.ObjectID, codeHash string, now time.Time) (models.LoginChallenge, bool, error) {
	return s.cas(id, now, undecided, func(c *models.LoginChallenge) {
		c.CodeHash = codeHash
		c.Attempts = 0
	})
}

func (s *MemChallenges) RecordFailedAttempt(_ context.Context, id primitive.ObjectID, maxAttempts int, now time.Time) (models.LoginChallenge, bool, error) {
	return s.cas(id, now, undecided, func(c *models.LoginChallenge) {
		c.Attempts++
		c.Rejected = c.Attempts >= maxAttempts
	})
}

// MemTasks is an in-memory tasks store. InjectConflicts makes the next N
// writes fail as if another writer got there first.
type MemTasks struct {
	mu              sync.Mutex
	rows            map[primitive.ObjectID]models.Task
	InjectConflicts int
}

func NewMemTasks() *MemTasks {
	return &MemTasks{rows: make(map[primitive.ObjectID]models.Task)}
}

func (s *MemTasks) Create(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = t.CreatedAt
	t.Version = 1
	s.rows[t.ID] = *t
	return nil
}

func (s *MemTasks) Get(_ context.Context, companyID, id primitive.ObjectID) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[id]
	if !ok || t.CompanyID != companyID {
		return models.Task{}, taskstore.ErrNotFound
	}
	return t, nil
}

func (s *MemTasks) ListByCompany(_ context.Context, companyID primitive.ObjectID) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Task
	for _, t := range s.rows {
		if t.CompanyID == companyID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemTasks) conflict(id primitive.ObjectID) bool {
	if s.InjectConflicts == 0 {
		return false
	}
	s.InjectConflicts--
	if cur, ok := s.rows[id]; ok {
		cur.Version++
		s.rows[id] = cur
	}
	return true
}

func (s *MemTasks) Update(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflict(t.ID) {
		return taskstore.ErrVersionConflict
	}
	cur, ok := s.rows[t.ID]
	if !ok || cur.Version != t.Version {
		return taskstore.ErrVersionConflict
	}
	t.Version++
	s.rows[t.ID] = *t
	return nil
}

func (s *MemTasks) Delete(_ context.Context, id primitive.ObjectID, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflict(id) {
		return taskstore.ErrVersionConflict
	}
	cur, ok := s.rows[id]
	if !ok || cur.Version != version {
		return taskstore.ErrVersionConflict
	}
	delete(s.rows, id)
	return nil
}

func (s *MemTasks) DeleteForCompany(_ context.Context, companyID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.rows {
		if t.CompanyID == companyID {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// MemApplications is an in-memory applications store.
type MemApplications struct {
	mu              sync.Mutex
	rows            map[primitive.ObjectID]models.Application
	InjectConflicts int
}

func NewMemApplications() *MemApplications {
	return &MemApplications{rows: make(map[primitive.ObjectID]models.Application)}
}

func (s *MemApplications) Create(_ context.Context, a *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Version = 1
	s.rows[a.ID] = *a
	return nil
}

func (s *MemApplications) Get(_ context.Context, companyID, id primitive.ObjectID) (models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok || a.CompanyID != companyID {
		return models.Application{}, applicationstore.ErrNotFound
	}
	return a, nil
}

func (s *MemApplications) List(_ context.Context, companyID primitive.ObjectID, createdBy *primitive.ObjectID) ([]models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Application
	for _, a := range s.rows {
		if a.CompanyID != companyID {
			continue
		}
		if createdBy != nil && a.CreatedByID != *createdBy {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemApplications) Update(_ context.Context, a *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InjectConflicts > 0 {
		s.InjectConflicts--
		if cur, ok := s.rows[a.ID]; ok {
			cur.Version++
			s.rows[a.ID] = cur
		}
		return applicationstore.ErrVersionConflict
	}
	cur, ok := s.rows[a.ID]
	if !ok || cur.Version != a.Version {
		return applicationstore.ErrVersionConflict
	}
	a.Version++
	s.rows[a.ID] = *a
	return nil
}

func (s *MemApplications) CountByStatus(_ context.Context, creatorID primitive.ObjectID, companyIDs []primitive.ObjectID) (map[models.ApplicationStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := make(map[primitive.ObjectID]bool, len(companyIDs))
	for _, id := range companyIDs {
		in[id] = true
	}
	out := make(map[models.ApplicationStatus]int)
	for _, a := range s.rows {
		if a.CreatedByID == creatorID && in[a.CompanyID] {
			out[a.Status]++
		}
	}
	return out, nil
}

func (s *MemApplications) DeleteForCompany(_ context.Context, companyID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.rows {
		if a.CompanyID == companyID {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// MemConfirmations is an in-memory email confirmation store. Tokens are
// kept in the clear so tests can read them back with TokenFor.
type MemConfirmations struct {
	mu      sync.Mutex
	tokens  map[primitive.ObjectID]string
	Resends map[primitive.ObjectID]int
}

func NewMemConfirmations() *MemConfirmations {
	return &MemConfirmations{
		tokens:  make(map[primitive.ObjectID]string),
		Resends: make(map[primitive.ObjectID]int),
	}
}

func (s *MemConfirmations) Create(_ context.Context, userID primitive.ObjectID, email string, isResend bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isResend {
		if s.Resends[userID] >= emailconfirm.MaxResends {
			return "", emailconfirm.ErrTooManyResends
		}
		s.Resends[userID]++
	}
	token := primitive.NewObjectID().Hex()
	s.tokens[userID] = token
	return token, nil
}

func (s *MemConfirmations) Verify(_ context.Context, userID primitive.ObjectID, token string) (*emailconfirm.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want, ok := s.tokens[userID]
	if !ok {
		return nil, emailconfirm.ErrNotFound
	}
	if want != token {
		return nil, emailconfirm.ErrInvalidToken
	}
	delete(s.tokens, userID)
	return &emailconfirm.Confirmation{UserID: userID}, nil
}

func (s *MemConfirmations) DeleteByUser(_ context.Context, userID primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, userID)
	return nil
}

// TokenFor returns the pending token of userID.
func (s *MemConfirmations) TokenFor(userID primitive.ObjectID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[userID]
}
