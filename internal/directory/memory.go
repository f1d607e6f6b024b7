package directory

import (
	"context"
	"sort"
	"sync"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/pkg/errors"
)

// MemoryDirectory 进程内目录，测试和本地调试用
type MemoryDirectory struct {
	users map[int64]Contact
	heirs map[int64][]model.Heir
	mu    sync.RWMutex
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users: make(map[int64]Contact),
		heirs: make(map[int64][]model.Heir),
	}
}

var (
	_ UserDirectory        = (*MemoryDirectory)(nil)
	_ BeneficiaryDirectory = (*MemoryDirectory)(nil)
)

func (d *MemoryDirectory) AddUser(userID int64, c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[userID] = c
}

func (d *MemoryDirectory) AddHeir(h model.Heir) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heirs[h.UserID] = append(d.heirs[h.UserID], h)
}

func (d *MemoryDirectory) Exists(_ context.Context, userID int64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[userID]
	return ok, nil
}

func (d *MemoryDirectory) Contact(_ context.Context, userID int64) (Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.users[userID]
	if !ok {
		return Contact{}, errors.ErrUserNotFound
	}
	return c, nil
}

func (d *MemoryDirectory) ListVerified(_ context.Context, userID int64) ([]Beneficiary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Beneficiary, 0)
	for _, h := range d.heirs[userID] {
		if !h.IsVerified || h.IsDeleted {
			continue
		}
		out = append(out, Beneficiary{
			ID:      h.ID,
			Contact: Contact{Email: h.Email, Phone: h.Phone, FullName: h.FullName},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
