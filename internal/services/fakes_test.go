package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lunovey/simshop/internal/infrastructure/redis"
	"github.com/lunovey/simshop/internal/models"
	"github.com/lunovey/simshop/internal/provider"
	pkgerrors "github.com/lunovey/simshop/pkg/errors"
)

func redisKeyNotFound() error { return redis.ErrKeyNotFound }

func toString(value interface{}) string { return fmt.Sprintf("%v", value) }

// fakeGateway scripts provider behavior per method. Unset functions panic so
// tests only exercise what they declared.
type fakeGateway struct {
	listCountriesFn func(ctx context.Context) (map[string]provider.CountryInfo, error)
	listOperatorsFn func(ctx context.Context, country, svc string) (map[string]provider.OperatorInfo, error)
	listProductsFn  func(ctx context.Context, country string) (map[string]map[string]map[string]provider.ProductOffer, error)
	purchaseFn      func(ctx context.Context, country, operator, product string) (*models.Activation, error)
	getActivationFn func(ctx context.Context, id int64) (*models.Activation, error)
	finishFn        func(ctx context.Context, id int64) (*models.Activation, error)
	cancelFn        func(ctx context.Context, id int64) (*models.Activation, error)
	banFn           func(ctx context.Context, id int64) (*models.Activation, error)
	profileFn       func(ctx context.Context) (*provider.Profile, error)
	operationalFn   func(ctx context.Context) bool
}

func (f *fakeGateway) ListCountries(ctx context.Context) (map[string]provider.CountryInfo, error) {
	return f.listCountriesFn(ctx)
}

func (f *fakeGateway) ListOperators(ctx context.Context, country, svc string) (map[string]provider.OperatorInfo, error) {
	return f.listOperatorsFn(ctx, country, svc)
}

func (f *fakeGateway) ListProducts(ctx context.Context, country string) (map[string]map[string]map[string]provider.ProductOffer, error) {
	return f.listProductsFn(ctx, country)
}

func (f *fakeGateway) Purchase(ctx context.Context, country, operator, product string) (*models.Activation, error) {
	return f.purchaseFn(ctx, country, operator, product)
}

func (f *fakeGateway) GetActivation(ctx context.Context, id int64) (*models.Activation, error) {
	return f.getActivationFn(ctx, id)
}

func (f *fakeGateway) Finish(ctx context.Context, id int64) (*models.Activation, error) {
	return f.finishFn(ctx, id)
}

func (f *fakeGateway) Cancel(ctx context.Context, id int64) (*models.Activation, error) {
	return f.cancelFn(ctx, id)
}

func (f *fakeGateway) Ban(ctx context.Context, id int64) (*models.Activation, error) {
	return f.banFn(ctx, id)
}

func (f *fakeGateway) Profile(ctx context.Context) (*provider.Profile, error) {
	return f.profileFn(ctx)
}

func (f *fakeGateway) Operational(ctx context.Context) bool {
	return f.operationalFn(ctx)
}

// fakeUserRepo holds users in memory keyed by external ID.
type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int32
	users  map[string]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (r *fakeUserRepo) Upsert(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.users[user.ExternalID]; ok {
		existing.Email = user.Email
		existing.Username = user.Username
		existing.Name = user.Name
		existing.ImageURL = user.ImageURL
		*user = *existing
		return nil
	}
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = time.Now()
	clone := *user
	r.users[user.ExternalID] = &clone
	return nil
}

func (r *fakeUserRepo) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[externalID]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int32) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.ID == id {
			clone := *user
			return &clone, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (r *fakeUserRepo) Scrub(ctx context.Context, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[externalID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	user.Email = "deleted-" + externalID + "@removed.invalid"
	user.Username = ""
	user.Name = ""
	user.ImageURL = ""
	return nil
}

// fakeTransactionRepo records applied entries and keeps balances per user.
type fakeTransactionRepo struct {
	mu       sync.Mutex
	nextID   int32
	applied  []*models.Transaction
	balances map[int32]float64
	applyErr error
}

func newFakeTransactionRepo() *fakeTransactionRepo {
	return &fakeTransactionRepo{balances: make(map[int32]float64)}
}

func (r *fakeTransactionRepo) Apply(ctx context.Context, tx *models.Transaction) (int32, float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return 0, 0, r.applyErr
	}
	balance := r.balances[tx.UserID]
	if tx.Status == models.StatusCompleted {
		balance += tx.Signed()
		if balance < 0 {
			return 0, 0, pkgerrors.ErrInsufficientFunds
		}
		r.balances[tx.UserID] = balance
	}
	r.nextID++
	tx.ID = r.nextID
	tx.CreatedAt = time.Now()
	clone := *tx
	r.applied = append(r.applied, &clone)
	return tx.ID, balance, nil
}

func (r *fakeTransactionRepo) GetByID(ctx context.Context, id int32) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.applied {
		if tx.ID == id {
			clone := *tx
			return &clone, nil
		}
	}
	return nil, pkgerrors.ErrTransactionNotFound
}

func (r *fakeTransactionRepo) HistoryByUser(ctx context.Context, userID int32) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var history []models.Transaction
	for _, tx := range r.applied {
		if tx.UserID == userID {
			history = append(history, *tx)
		}
	}
	return history, nil
}

func (r *fakeTransactionRepo) FindByActivation(ctx context.Context, activationID int64, txType models.TransactionType) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.applied {
		if tx.ActivationID != nil && *tx.ActivationID == activationID && tx.Type == txType {
			clone := *tx
			return &clone, nil
		}
	}
	return nil, pkgerrors.ErrTransactionNotFound
}

func (r *fakeTransactionRepo) appliedOfType(txType models.TransactionType) []*models.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Transaction
	for _, tx := range r.applied {
		if tx.Type == txType {
			out = append(out, tx)
		}
	}
	return out
}

// fakeActivationRepo stores activation rows in memory.
type fakeActivationRepo struct {
	mu   sync.Mutex
	rows map[int64]*models.Activation
}

func newFakeActivationRepo() *fakeActivationRepo {
	return &fakeActivationRepo{rows: make(map[int64]*models.Activation)}
}

func (r *fakeActivationRepo) Upsert(ctx context.Context, activation *models.Activation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *activation
	r.rows[activation.ID] = &clone
	return nil
}

func (r *fakeActivationRepo) GetByID(ctx context.Context, id int64) (*models.Activation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (r *fakeActivationRepo) ListByUser(ctx context.Context, userID int32) ([]models.Activation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rows []models.Activation
	for _, row := range r.rows {
		if row.UserID == userID {
			rows = append(rows, *row)
		}
	}
	return rows, nil
}

// fakeProducer records sent messages per topic.
type fakeProducer struct {
	mu   sync.Mutex
	sent map[string][][]byte
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{sent: make(map[string][][]byte)}
}

func (p *fakeProducer) Send(ctx context.Context, topic string, key int64, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent[topic] = append(p.sent[topic], value)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

// fakeRedis implements the client interface with in-memory maps and lists.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	lists  map[string][]string
	failed bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values: make(map[string]string),
		lists:  make(map[string][]string),
	}
}

func (c *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return "", context.DeadlineExceeded
	}
	value, ok := c.values[key]
	if !ok {
		return "", redisKeyNotFound()
	}
	return value, nil
}

func (c *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return context.DeadlineExceeded
	}
	c.values[key] = toString(value)
	return nil
}

func (c *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = toString(value)
	return true, nil
}

func (c *fakeRedis) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	delete(c.lists, key)
	return nil
}

func (c *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return context.DeadlineExceeded
	}
	for _, value := range values {
		c.lists[key] = append([]string{toString(value)}, c.lists[key]...)
	}
	return nil
}

func (c *fakeRedis) LRem(ctx context.Context, key string, count int64, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return context.DeadlineExceeded
	}
	target := toString(value)
	var kept []string
	for _, entry := range c.lists[key] {
		if entry != target {
			kept = append(kept, entry)
		}
	}
	c.lists[key] = kept
	return nil
}

func (c *fakeRedis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return nil, context.DeadlineExceeded
	}
	return append([]string(nil), c.lists[key]...), nil
}

func (c *fakeRedis) Close() error { return nil }

// recordingNotifier captures watcher callbacks.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []models.SMSMessage
	codes    []string
}

func (n *recordingNotifier) NotifyNewMessage(_ *models.Activation, message models.SMSMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) NotifyCode(_ *models.Activation, code string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, code)
}

func (n *recordingNotifier) snapshot() ([]models.SMSMessage, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.SMSMessage(nil), n.messages...), append([]string(nil), n.codes...)
}
