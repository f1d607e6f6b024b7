// Package memory 进程内的 Store 实现，供测试使用。
// 事务通过全局互斥串行化，失败时整体回滚到事务开始前的快照。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/pkg/errors"
)

// Hooks 测试用的故障注入点，返回非 nil 时对应写操作失败
type Hooks struct {
	BeforeUpdateSwitch       func(sw *model.Switch) error
	BeforeInsertNotification func(rec *model.NotificationRecord) error
	BeforeInsertAccessGrant  func(grant *model.AccessGrant) error
}

type state struct {
	switches      map[int64]*model.Switch
	byUser        map[int64]int64
	checkIns      []model.CheckInEvent
	notifications []model.NotificationRecord
	grants        []model.AccessGrant
	nextID        int64
}

func newState() *state {
	return &state{
		switches: make(map[int64]*model.Switch),
		byUser:   make(map[int64]int64),
	}
}

func (st *state) clone() *state {
	c := &state{
		switches:      make(map[int64]*model.Switch, len(st.switches)),
		byUser:        make(map[int64]int64, len(st.byUser)),
		checkIns:      append([]model.CheckInEvent(nil), st.checkIns...),
		notifications: append([]model.NotificationRecord(nil), st.notifications...),
		grants:        append([]model.AccessGrant(nil), st.grants...),
		nextID:        st.nextID,
	}
	for id, sw := range st.switches {
		c.switches[id] = sw.Clone()
	}
	for u, id := range st.byUser {
		c.byUser[u] = id
	}
	return c
}

// Store 内存实现
type Store struct {
	mu    *sync.Mutex
	root  **state
	hooks *Hooks
	inTx  bool
}

func NewStore() *Store {
	st := newState()
	return &Store{mu: &sync.Mutex{}, root: &st, hooks: &Hooks{}}
}

var _ repository.Store = (*Store)(nil)

// SetHooks 替换故障注入点
func (s *Store) SetHooks(h Hooks) {
	unlock := s.lock()
	defer unlock()
	*s.hooks = h
}

// lock 事务内已持有锁
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) st() *state {
	return *s.root
}

func (s *Store) nextID() int64 {
	st := s.st()
	st.nextID++
	return st.nextID
}

func (s *Store) CreateSwitch(_ context.Context, sw *model.Switch) error {
	unlock := s.lock()
	defer unlock()

	st := s.st()
	if _, ok := st.byUser[sw.UserID]; ok {
		return errors.SwitchAlreadyExists
	}
	if sw.ID == 0 {
		sw.ID = s.nextID()
	}
	if _, ok := st.switches[sw.ID]; ok {
		return errors.SwitchAlreadyExists
	}
	st.switches[sw.ID] = sw.Clone()
	st.byUser[sw.UserID] = sw.ID
	return nil
}

func (s *Store) GetSwitchByUser(_ context.Context, userID int64) (*model.Switch, error) {
	unlock := s.lock()
	defer unlock()
	return s.byUser(userID)
}

func (s *Store) GetSwitchByUserForUpdate(ctx context.Context, userID int64) (*model.Switch, error) {
	return s.GetSwitchByUser(ctx, userID)
}

func (s *Store) GetSwitchForUpdate(_ context.Context, id int64) (*model.Switch, error) {
	unlock := s.lock()
	defer unlock()

	sw, ok := s.st().switches[id]
	if !ok {
		return nil, errors.SwitchNotFound
	}
	return sw.Clone(), nil
}

func (s *Store) byUser(userID int64) (*model.Switch, error) {
	st := s.st()
	id, ok := st.byUser[userID]
	if !ok {
		return nil, errors.SwitchNotFound
	}
	return st.switches[id].Clone(), nil
}

func (s *Store) UpdateSwitch(_ context.Context, sw *model.Switch) error {
	unlock := s.lock()
	defer unlock()

	if h := s.hooks.BeforeUpdateSwitch; h != nil {
		if err := h(sw); err != nil {
			return err
		}
	}

	current, ok := s.st().switches[sw.ID]
	if !ok || current.Version != sw.Version {
		return errors.SwitchVersionConflict
	}
	sw.Version++
	updated := sw.Clone()
	updated.UserID = current.UserID
	updated.CreatedAt = current.CreatedAt
	s.st().switches[sw.ID] = updated
	return nil
}

func (s *Store) ListCandidates(_ context.Context, filter repository.CandidateFilter) ([]model.Switch, error) {
	unlock := s.lock()
	defer unlock()

	out := make([]model.Switch, 0)
	for _, sw := range s.st().switches {
		if !sw.IsActive || sw.Status != filter.Status || sw.ID <= filter.AfterID {
			continue
		}
		out = append(out, *sw.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if limit := repository.ClampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendCheckIn(_ context.Context, ev *model.CheckInEvent) error {
	unlock := s.lock()
	defer unlock()

	ev.ID = s.nextID()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = ev.OccurredAt
		ev.UpdatedAt = ev.OccurredAt
	}
	st := s.st()
	st.checkIns = append(st.checkIns, *ev)
	return nil
}

func (s *Store) ListCheckIns(_ context.Context, switchID int64, limit int) ([]model.CheckInEvent, error) {
	unlock := s.lock()
	defer unlock()

	out := make([]model.CheckInEvent, 0)
	for _, ev := range s.st().checkIns {
		if ev.SwitchID == switchID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if limit = repository.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type notificationKey struct {
	notificationType model.NotificationType
	windowKey        string
	recipientKind    model.RecipientKind
	channel          model.NotificationChannel
	switchID         int64
	heirID           int64
}

func keyOf(rec *model.NotificationRecord) notificationKey {
	return notificationKey{
		notificationType: rec.NotificationType,
		windowKey:        rec.WindowKey,
		recipientKind:    rec.RecipientKind,
		channel:          rec.Channel,
		switchID:         rec.SwitchID,
		heirID:           rec.HeirID,
	}
}

func (s *Store) InsertNotification(_ context.Context, rec *model.NotificationRecord) (bool, error) {
	unlock := s.lock()
	defer unlock()

	if h := s.hooks.BeforeInsertNotification; h != nil {
		if err := h(rec); err != nil {
			return false, err
		}
	}

	st := s.st()
	key := keyOf(rec)
	for i := range st.notifications {
		if keyOf(&st.notifications[i]) == key {
			return false, nil
		}
	}

	rec.ID = s.nextID()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.SentAt
		rec.UpdatedAt = rec.SentAt
	}
	st.notifications = append(st.notifications, *rec)
	return true, nil
}

func (s *Store) HasNotification(_ context.Context, q model.NotificationQuery) (bool, error) {
	unlock := s.lock()
	defer unlock()

	for _, rec := range s.st().notifications {
		if rec.SwitchID != q.SwitchID || rec.NotificationType != q.Type || !rec.SentAt.After(q.Since) {
			continue
		}
		if q.RecipientKind != "" && rec.RecipientKind != q.RecipientKind {
			continue
		}
		if q.HeirID != 0 && rec.HeirID != q.HeirID {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (s *Store) GetNotification(_ context.Context, id int64) (*model.NotificationRecord, error) {
	unlock := s.lock()
	defer unlock()

	for _, rec := range s.st().notifications {
		if rec.ID == id {
			r := rec
			return &r, nil
		}
	}
	return nil, errors.NotificationNotFound
}

func (s *Store) FindNotificationByLinkToken(_ context.Context, token string) (*model.NotificationRecord, error) {
	unlock := s.lock()
	defer unlock()

	if token == "" {
		return nil, errors.NotificationNotFound
	}
	for _, rec := range s.st().notifications {
		if rec.CheckInLinkToken == token {
			r := rec
			return &r, nil
		}
	}
	return nil, errors.NotificationNotFound
}

func (s *Store) ListNotifications(_ context.Context, switchID int64, limit int) ([]model.NotificationRecord, error) {
	unlock := s.lock()
	defer unlock()

	out := make([]model.NotificationRecord, 0)
	for _, rec := range s.st().notifications {
		if rec.SwitchID == switchID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SentAt.After(out[j].SentAt)
	})
	if limit = repository.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListPendingNotifications(_ context.Context, createdBefore time.Time, limit int) ([]model.NotificationRecord, error) {
	unlock := s.lock()
	defer unlock()

	out := make([]model.NotificationRecord, 0)
	for _, rec := range s.st().notifications {
		if rec.Status == model.NotificationStatusPending && rec.CreatedAt.Before(createdBefore) {
			out = append(out, rec)
		}
	}
	if limit = repository.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateNotificationDelivery(_ context.Context, id int64, patch model.NotificationDeliveryPatch) (bool, error) {
	unlock := s.lock()
	defer unlock()

	st := s.st()
	for i := range st.notifications {
		rec := &st.notifications[i]
		if rec.ID != id {
			continue
		}
		if patch.FromStatus != "" && rec.Status != patch.FromStatus {
			return false, nil
		}
		if patch.Status != "" {
			rec.Status = patch.Status
		}
		if patch.DeliveryID != "" {
			rec.DeliveryID = patch.DeliveryID
		}
		if patch.DeliveredAt != nil {
			t := *patch.DeliveredAt
			rec.DeliveredAt = &t
		}
		if patch.ClickedAt != nil {
			t := *patch.ClickedAt
			rec.ClickedAt = &t
		}
		if patch.FailureReason != "" {
			rec.FailureReason = patch.FailureReason
		}
		rec.Attempts += patch.AttemptsDelta
		return true, nil
	}
	return false, nil
}

func (s *Store) InsertAccessGrant(_ context.Context, grant *model.AccessGrant) (bool, error) {
	unlock := s.lock()
	defer unlock()

	if h := s.hooks.BeforeInsertAccessGrant; h != nil {
		if err := h(grant); err != nil {
			return false, err
		}
	}

	st := s.st()
	for _, g := range st.grants {
		if g.SwitchID == grant.SwitchID && g.HeirID == grant.HeirID {
			return false, nil
		}
	}
	grant.ID = s.nextID()
	st.grants = append(st.grants, *grant)
	return true, nil
}

func (s *Store) ListAccessGrants(_ context.Context, switchID int64) ([]model.AccessGrant, error) {
	unlock := s.lock()
	defer unlock()

	out := make([]model.AccessGrant, 0)
	for _, g := range s.st().grants {
		if g.SwitchID == switchID {
			out = append(out, g)
		}
	}
	return out, nil
}

// InTx 最外层加锁，嵌套调用相当于 savepoint：失败只恢复到嵌套开始时的快照
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	unlock := s.lock()
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.st().clone()
	tx := &Store{mu: s.mu, root: s.root, hooks: s.hooks, inTx: true}
	if err := fn(tx); err != nil {
		*s.root = snapshot
		return err
	}
	return nil
}

// CountNotifications 测试辅助
func (s *Store) CountNotifications(switchID int64, t model.NotificationType) int {
	unlock := s.lock()
	defer unlock()

	n := 0
	for _, rec := range s.st().notifications {
		if rec.SwitchID == switchID && rec.NotificationType == t {
			n++
		}
	}
	return n
}

// CheckInCount 测试辅助
func (s *Store) CheckInCount(switchID int64) int {
	unlock := s.lock()
	defer unlock()

	n := 0
	for _, ev := range s.st().checkIns {
		if ev.SwitchID == switchID {
			n++
		}
	}
	return n
}
