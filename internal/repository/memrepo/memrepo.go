// Package memrepo is an in-memory implementation of the repository stores,
// used by tests and single-process local runs.
package memrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sendgate/internal/apperror"
	"sendgate/internal/model"
	"sendgate/internal/repository"
)

type usageKey struct {
	appID string
	day   time.Time
}

// Store holds every table behind one mutex. The per-table views returned by
// Users, Apps and so on share it.
type Store struct {
	mu        sync.Mutex
	users     map[string]*model.User
	apps      map[string]*model.App
	providers map[int64]*model.Provider
	configs   map[int64]*model.SendingConfiguration
	usage     map[usageKey]*model.EmailUsage
	logs      []*model.SentEmailLog
	nextID    int64
	now       func() time.Time
}

func New() *Store {
	return &Store{
		users:     make(map[string]*model.User),
		apps:      make(map[string]*model.App),
		providers: make(map[int64]*model.Provider),
		configs:   make(map[int64]*model.SendingConfiguration),
		usage:     make(map[usageKey]*model.EmailUsage),
		now:       time.Now,
	}
}

type (
	Users     Store
	Apps      Store
	Providers Store
	Configs   Store
	Usage     Store
	Logs      Store
)

var (
	_ repository.UserStore     = (*Users)(nil)
	_ repository.AppStore      = (*Apps)(nil)
	_ repository.ProviderStore = (*Providers)(nil)
	_ repository.ConfigStore   = (*Configs)(nil)
	_ repository.UsageStore    = (*Usage)(nil)
	_ repository.SentLogStore  = (*Logs)(nil)
)

func (s *Store) Users() *Users         { return (*Users)(s) }
func (s *Store) Apps() *Apps           { return (*Apps)(s) }
func (s *Store) Providers() *Providers { return (*Providers)(s) }
func (s *Store) Configs() *Configs     { return (*Configs)(s) }
func (s *Store) Usage() *Usage         { return (*Usage)(s) }
func (s *Store) Logs() *Logs           { return (*Logs)(s) }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddUser seeds a user.
func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = &u
}

// AddApp seeds an app.
func (s *Store) AddApp(a model.App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.apps[a.ID] = &a
}

// AddProvider seeds a provider and returns its id.
func (s *Store) AddProvider(p model.Provider) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.providers[p.ID] = &p
	return p.ID
}

// ActiveConfigs returns every active configuration of an app.
func (s *Store) ActiveConfigs(appID string) []model.SendingConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SendingConfiguration
	for _, c := range s.sortedConfigs() {
		if c.AppID == appID && c.IsActive {
			out = append(out, copyConfig(c))
		}
	}
	return out
}

// UsageFor returns the usage row for an app and day, zero when absent.
func (s *Store) UsageFor(appID string, day time.Time) model.EmailUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.usage[usageKey{appID, model.Day(day)}]; ok {
		return *u
	}
	return model.EmailUsage{AppID: appID, Date: model.Day(day)}
}

// AllLogs returns every sent log in insertion order.
func (s *Store) AllLogs() []model.SentEmailLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SentEmailLog, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, *l)
	}
	return out
}

// users

func (r *Users) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperror.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *Users) DeductCredit(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.Credits <= 0 {
		return false, nil
	}
	u.Credits--
	return true, nil
}

func (r *Users) SetPlan(_ context.Context, id string, plan model.Plan, credits *int) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperror.ErrUserNotFound
	}
	u.Plan = plan
	if credits != nil {
		u.Credits = *credits
	}
	cp := *u
	return &cp, nil
}

// apps

func (r *Apps) GetByID(_ context.Context, id string) (*model.App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.apps[id]
	if !ok {
		return nil, apperror.ErrAppNotFound
	}
	cp := *a
	return &cp, nil
}

// providers

func (r *Providers) GetByID(_ context.Context, id int64) (*model.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, apperror.ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *Providers) List(_ context.Context) ([]model.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// configs

func copyConfig(c *model.SendingConfiguration) model.SendingConfiguration {
	cp := *c
	cp.Credentials = make(model.Credentials, len(c.Credentials))
	for k, v := range c.Credentials {
		cp.Credentials[k] = v
	}
	if c.ProvisioningError != nil {
		msg := *c.ProvisioningError
		cp.ProvisioningError = &msg
	}
	return cp
}

func (s *Store) sortedConfigs() []*model.SendingConfiguration {
	out := make([]*model.SendingConfiguration, 0, len(s.configs))
	for _, c := range s.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Configs) activeLocked(appID string) *model.SendingConfiguration {
	for _, c := range (*Store)(r).sortedConfigs() {
		if c.AppID == appID && c.IsActive {
			return c
		}
	}
	return nil
}

func (r *Configs) GetActive(_ context.Context, appID string) (*model.SendingConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.activeLocked(appID)
	if c == nil {
		return nil, apperror.ErrNoActiveConfig
	}
	cp := copyConfig(c)
	if p, ok := r.providers[c.ProviderID]; ok {
		pc := *p
		cp.Provider = &pc
	}
	return &cp, nil
}

func (r *Configs) GetByID(_ context.Context, id int64) (*model.SendingConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.configs[id]
	if !ok {
		return nil, apperror.ErrConfigNotFound
	}
	cp := copyConfig(c)
	return &cp, nil
}

func (r *Configs) Bind(_ context.Context, appID string, providerID int64) (*model.SendingConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[appID]
	if !ok {
		return nil, apperror.ErrAppNotFound
	}
	if _, ok := r.providers[providerID]; !ok {
		return nil, apperror.ErrProviderNotFound
	}

	now := r.now()
	if cur := r.activeLocked(appID); cur != nil {
		if cur.ProviderID == providerID {
			cp := copyConfig(cur)
			return &cp, nil
		}
		cur.IsActive = false
		cur.UpdatedAt = now
	}

	var target *model.SendingConfiguration
	for _, c := range r.configs {
		if c.AppID == appID && c.ProviderID == providerID {
			target = c
			break
		}
	}
	if target == nil {
		target = &model.SendingConfiguration{
			ID:         (*Store)(r).id(),
			AppID:      appID,
			ProviderID: providerID,
			CreatedAt:  now,
		}
		r.configs[target.ID] = target
	}
	target.UserID = app.OwnerID
	target.Credentials = model.Credentials{}
	target.IsActive = true
	target.Status = model.ProvisioningIdle
	target.ProvisioningError = nil
	target.UpdatedAt = now

	cp := copyConfig(target)
	return &cp, nil
}

func (r *Configs) MarkPending(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.configs[id]
	if !ok || !c.IsActive || !c.Credentials.Empty() {
		return false, nil
	}
	if c.Status != model.ProvisioningIdle && c.Status != model.ProvisioningError {
		return false, nil
	}
	c.Status = model.ProvisioningPending
	c.ProvisioningError = nil
	c.UpdatedAt = r.now()
	return true, nil
}

func (r *Configs) MarkSuccess(_ context.Context, id int64, creds model.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.configs[id]
	if !ok || c.Status != model.ProvisioningPending {
		return nil
	}
	c.Status = model.ProvisioningSuccess
	c.Credentials = make(model.Credentials, len(creds))
	for k, v := range creds {
		c.Credentials[k] = v
	}
	c.ProvisioningError = nil
	c.UpdatedAt = r.now()
	return nil
}

func (r *Configs) MarkError(_ context.Context, id int64, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.configs[id]
	if !ok || c.Status != model.ProvisioningPending {
		return nil
	}
	c.Status = model.ProvisioningError
	c.ProvisioningError = &msg
	c.UpdatedAt = r.now()
	return nil
}

// usage

func (r *Usage) Increment(_ context.Context, appID, userID string, day time.Time, outcome model.UsageOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := usageKey{appID, model.Day(day)}
	u, ok := r.usage[key]
	if !ok {
		u = &model.EmailUsage{AppID: appID, UserID: userID, Date: key.day}
		r.usage[key] = u
	}
	switch outcome {
	case model.UsageSent:
		u.SentCount++
	case model.UsageFail:
		u.FailedCount++
	case model.UsageRead:
		u.ReadCount++
	default:
		return fmt.Errorf("unknown usage outcome %q", outcome)
	}
	return nil
}

func (r *Usage) List(_ context.Context, appID string, from, to time.Time) ([]model.EmailUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from, to = model.Day(from), model.Day(to)
	out := []model.EmailUsage{}
	for k, u := range r.usage {
		if k.appID == appID && !k.day.Before(from) && !k.day.After(to) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

// sent logs

func (r *Logs) CreateQueued(_ context.Context, e *model.SentEmailLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		if l.MessageTag == e.MessageTag {
			return fmt.Errorf("duplicate message_tag %q", e.MessageTag)
		}
	}
	e.ID = (*Store)(r).id()
	e.Status = model.EmailQueued
	e.CreatedAt = r.now()
	cp := *e
	r.logs = append(r.logs, &cp)
	return nil
}

func (r *Logs) byTagLocked(tag string) *model.SentEmailLog {
	for _, l := range r.logs {
		if l.MessageTag == tag {
			return l
		}
	}
	return nil
}

func (r *Logs) Finalize(_ context.Context, tag string, status model.EmailStatus, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.byTagLocked(tag)
	if l == nil || l.Status != model.EmailQueued {
		return nil
	}
	l.Status = status
	l.ErrorMessage = errMsg
	if status == model.EmailSent {
		t := at
		l.TimeSent = &t
	}
	return nil
}

func (r *Logs) MarkDelivered(_ context.Context, tag, messageID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.byTagLocked(tag)
	if l == nil {
		return false, nil
	}
	switch l.Status {
	case model.EmailQueued, model.EmailSent, model.EmailFailed:
	default:
		return false, nil
	}
	l.Status = model.EmailDelivered
	id, t := messageID, at
	l.MessageID = &id
	l.TimeSent = &t
	return true, nil
}

func (r *Logs) MarkOpened(_ context.Context, messageID string, at time.Time) (*model.SentEmailLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var updated *model.SentEmailLog
	for _, l := range r.logs {
		if l.MessageID != nil && *l.MessageID == messageID && l.Status != model.EmailOpened {
			t := at
			l.Status = model.EmailOpened
			l.TimeRead = &t
			cp := *l
			updated = &cp
		}
	}
	return updated, nil
}

func (r *Logs) MarkBounced(_ context.Context, messageID, tag string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, l := range r.logs {
		if l.Status == model.EmailBounced {
			continue
		}
		byID := messageID != "" && l.MessageID != nil && *l.MessageID == messageID
		byTag := tag != "" && l.MessageTag == tag
		if !byID && !byTag {
			continue
		}
		l.Status = model.EmailBounced
		if l.MessageID == nil && messageID != "" {
			id := messageID
			l.MessageID = &id
		}
		if l.TimeSent == nil {
			t := at
			l.TimeSent = &t
		}
		changed = true
	}
	return changed, nil
}

func (r *Logs) FindByTag(_ context.Context, tag string) (*model.SentEmailLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.byTagLocked(tag)
	if l == nil {
		return nil, apperror.ErrNoMatchingLog
	}
	cp := *l
	return &cp, nil
}

func (r *Logs) FindByMessageID(_ context.Context, messageID string) (*model.SentEmailLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.logs) - 1; i >= 0; i-- {
		l := r.logs[i]
		if l.MessageID != nil && *l.MessageID == messageID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, apperror.ErrNoMatchingLog
}

func (r *Logs) ListRecent(_ context.Context, appID string, limit int) ([]model.SentEmailLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	out := []model.SentEmailLog{}
	for i := len(r.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.logs[i].AppID == appID {
			out = append(out, *r.logs[i])
		}
	}
	return out, nil
}
