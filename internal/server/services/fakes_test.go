package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/paykeeper/internal/cache"
	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	"github.com/dmitrijs2005/paykeeper/internal/logging"
	"github.com/dmitrijs2005/paykeeper/internal/server/broker"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
	"github.com/dmitrijs2005/paykeeper/internal/server/monitoring"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/payments"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/transactions"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/verificationtokens"
)

// memDB is an in-memory stand-in for Postgres. Every conditional write is
// evaluated under one lock, like a single-row UPDATE ... WHERE.
type memDB struct {
	mu       sync.Mutex
	seq      int
	now      func() time.Time
	users    map[string]*models.User
	tokens   []models.VerificationToken
	sessions map[string]*models.Session
	payments map[models.PaymentKind]map[string]*models.PaymentObject
	txs      map[string]*models.Transaction
}

func newMemDB() *memDB {
	return &memDB{
		now:      time.Now,
		users:    map[string]*models.User{},
		sessions: map[string]*models.Session{},
		payments: map[models.PaymentKind]map[string]*models.PaymentObject{
			models.KindLink:    {},
			models.KindRequest: {},
		},
		txs: map[string]*models.Transaction{},
	}
}

func (m *memDB) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

type fakeStore struct{ txCount atomic.Int32 }

func (s *fakeStore) Conn() dbx.DBTX { return nil }
func (s *fakeStore) WithTx(ctx context.Context, fn dbx.TxFunc) error {
	s.txCount.Add(1)
	return fn(ctx, nil)
}

type fakeRepos struct{ db *memDB }

func (f *fakeRepos) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f *fakeRepos) Users(dbx.DBTX) users.Repository              { return &fakeUsers{f.db} }
func (f *fakeRepos) VerificationTokens(dbx.DBTX) verificationtokens.Repository {
	return &fakeTokens{f.db}
}
func (f *fakeRepos) Sessions(dbx.DBTX) sessions.Repository { return &fakeSessions{f.db} }
func (f *fakeRepos) Payments(_ dbx.DBTX, kind models.PaymentKind) payments.Repository {
	return &fakePayments{db: f.db, kind: kind}
}
func (f *fakeRepos) Transactions(dbx.DBTX) transactions.Repository { return &fakeTransactions{f.db} }

// --- users ---

type fakeUsers struct{ db *memDB }

func cloneUser(u *models.User) *models.User { c := *u; return &c }

func (r *fakeUsers) UpsertByEmail(_ context.Context, email string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	u := &models.User{ID: r.db.nextID("u"), Email: email, CreatedAt: r.db.now(), UpdatedAt: r.db.now()}
	r.db.users[u.ID] = u
	return cloneUser(u), nil
}

func (r *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneUser(u), nil
}

func (r *fakeUsers) find(match func(*models.User) bool) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Email == email })
}

func (r *fakeUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Username != nil && *u.Username == username })
}

func (r *fakeUsers) SetUsername(_ context.Context, id, username string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.ID != id && u.Username != nil && *u.Username == username {
			return common.NewConflictError("", "username already taken")
		}
	}
	u, ok := r.db.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Username = &username
	return nil
}

func (r *fakeUsers) SetWallet(_ context.Context, id string, w models.WalletUpdate) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok || u.HasPasscode {
		return false, nil
	}
	u.SolanaAddress = &w.SolanaAddress
	u.EVMAddress = &w.EVMAddress
	u.ServerShare = w.ServerShare
	u.Salt = w.Salt
	u.HasPasscode = true
	return true, nil
}

// --- verification tokens ---

type fakeTokens struct{ db *memDB }

func (r *fakeTokens) DeleteByIdentifier(_ context.Context, identifier string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	kept := r.db.tokens[:0]
	for _, t := range r.db.tokens {
		if t.Identifier != identifier {
			kept = append(kept, t)
		}
	}
	r.db.tokens = kept
	return nil
}

func (r *fakeTokens) Create(_ context.Context, identifier, token string, expires time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.tokens = append(r.db.tokens, models.VerificationToken{Identifier: identifier, Token: token, Expires: expires})
	return nil
}

func (r *fakeTokens) Consume(_ context.Context, identifier, token string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i, t := range r.db.tokens {
		if t.Identifier == identifier && t.Token == token && t.Expires.After(r.db.now()) {
			r.db.tokens = append(r.db.tokens[:i], r.db.tokens[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTokens) DeleteExpired(context.Context) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	kept := r.db.tokens[:0]
	for _, t := range r.db.tokens {
		if t.Expires.After(r.db.now()) {
			kept = append(kept, t)
		} else {
			n++
		}
	}
	r.db.tokens = kept
	return n, nil
}

// --- sessions ---

type fakeSessions struct{ db *memDB }

func (r *fakeSessions) Create(_ context.Context, userID, token, provider string, validity time.Duration) (*models.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s := &models.Session{
		ID: r.db.nextID("s"), UserID: userID, SessionToken: token, Provider: provider,
		Expires: r.db.now().Add(validity), CreatedAt: r.db.now(),
	}
	r.db.sessions[token] = s
	c := *s
	return &c, nil
}

func (r *fakeSessions) Find(_ context.Context, token string) (*models.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sessions[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *s
	return &c, nil
}

func (r *fakeSessions) Delete(_ context.Context, token string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, token)
	return nil
}

// --- payments ---

type fakePayments struct {
	db   *memDB
	kind models.PaymentKind
}

func clonePayment(p *models.PaymentObject) *models.PaymentObject { c := *p; return &c }

func (r *fakePayments) table() map[string]*models.PaymentObject { return r.db.payments[r.kind] }

func (r *fakePayments) Create(_ context.Context, p *models.PaymentObject) (*models.PaymentObject, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p.ID = r.db.nextID("p")
	p.Kind = r.kind
	p.CreatedAt = r.db.now().Add(time.Duration(r.db.seq))
	r.table()[p.ID] = clonePayment(p)
	return clonePayment(p), nil
}

func (r *fakePayments) ShortIDExists(_ context.Context, shortID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.table() {
		if p.ShortID == shortID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakePayments) GetByID(_ context.Context, id string) (*models.PaymentObject, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.table()[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clonePayment(p), nil
}

func (r *fakePayments) GetByShortID(_ context.Context, shortID string) (*models.PaymentObject, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.table() {
		if p.ShortID == shortID {
			return clonePayment(p), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakePayments) ListByCreator(_ context.Context, creatorID string) ([]*models.PaymentObject, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.PaymentObject
	for _, p := range r.table() {
		if p.CreatorID == creatorID {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakePayments) Transition(_ context.Context, id, from, to string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.table()[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}

func (r *fakePayments) MarkCompleted(_ context.Context, id, open string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.table()[id]
	now := r.db.now()
	if !ok || p.Status != open || !p.ExpiresAt.After(now) {
		return false, nil
	}
	p.Status = common.StatusCompleted
	p.CompletedAt = &now
	return true, nil
}

func (r *fakePayments) AttachTransaction(_ context.Context, id, transactionID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.table()[id]
	if !ok {
		return common.ErrorNotFound
	}
	p.TransactionID = &transactionID
	return nil
}

// --- transactions ---

type fakeTransactions struct{ db *memDB }

func cloneTx(t *models.Transaction) *models.Transaction { c := *t; return &c }

func (r *fakeTransactions) Create(_ context.Context, tx *models.Transaction) (*models.Transaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	tx.ID = r.db.nextID("t")
	tx.CreatedAt = r.db.now()
	if tx.Status == common.TxExecuted {
		now := r.db.now()
		tx.ExecutedAt = &now
	}
	r.db.txs[tx.ID] = cloneTx(tx)
	return cloneTx(tx), nil
}

func (r *fakeTransactions) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.txs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneTx(t), nil
}

func (r *fakeTransactions) Advance(_ context.Context, id, from, to string, signature *string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.txs[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	if signature != nil {
		t.Signature = signature
	}
	if to == common.TxExecuted {
		now := r.db.now()
		t.ExecutedAt = &now
	}
	return true, nil
}

func (r *fakeTransactions) SetJobID(_ context.Context, id, jobID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.txs[id]
	if !ok {
		return common.ErrorNotFound
	}
	t.JobID = &jobID
	return nil
}

func (r *fakeTransactions) SetReceiptKey(_ context.Context, id, key string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.txs[id]
	if !ok {
		return common.ErrorNotFound
	}
	t.ReceiptKey = &key
	return nil
}

func (m *memDB) countTransactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

// --- external collaborators ---

type sentMail struct{ to, subject, body string }

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to, subject, body})
	return nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []broker.SubmitRequest
	result   *broker.SubmitResult
	err      error
	balance  *broker.Balance
	balances int
}

func (f *fakeSubmitter) Submit(_ context.Context, req broker.SubmitRequest) (*broker.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeSubmitter) Balance(_ context.Context, address string) (*broker.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances++
	if f.err != nil {
		return nil, f.err
	}
	b := *f.balance
	b.Address = address
	return &b, nil
}

type fakeJobs struct {
	jobID     string
	createErr error
	status    *broker.JobStatus
	statusErr error
	created   []broker.JobRequest
}

func (f *fakeJobs) CreateJob(_ context.Context, req broker.JobRequest) (string, error) {
	f.created = append(f.created, req)
	return f.jobID, f.createErr
}

func (f *fakeJobs) JobStatus(_ context.Context, jobID string) (*broker.JobStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	st := *f.status
	st.ID = jobID
	return &st, nil
}

// testEnv wires services over memDB the way server.NewApp wires them over
// Postgres.
type testEnv struct {
	db      *memDB
	store   *fakeStore
	repos   *fakeRepos
	logger  logging.Logger
	metrics *monitoring.Metrics
	cache   *cache.TTLCache
}

func newTestEnv() *testEnv {
	db := newMemDB()
	logger := logging.NewNopLogger()
	return &testEnv{
		db:      db,
		store:   &fakeStore{},
		repos:   &fakeRepos{db: db},
		logger:  logger,
		metrics: monitoring.New(),
		cache:   cache.New(cache.NewMemoryStore(), time.Minute, logger),
	}
}

func (e *testEnv) addUser(email string) *models.User {
	u, _ := e.repos.Users(nil).UpsertByEmail(context.Background(), email)
	return u
}
