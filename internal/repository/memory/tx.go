package memory

import (
	"context"
	"time"

	"shortlink/internal/domain"
	"shortlink/internal/repository"
)

// memTx records an undo step for every successful write so a failed
// transaction can be rolled back.
type memTx struct {
	*MemStorage
	undo []func()
}

var _ repository.Storage = (*memTx)(nil)

// Transaction joins the outer transaction.
func (tx *memTx) Transaction(_ context.Context, fn func(tx repository.Storage) error) error {
	return fn(tx)
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) CreateLink(ctx context.Context, link *domain.Link) error {
	if err := tx.MemStorage.CreateLink(ctx, link); err != nil {
		return err
	}
	code, id := link.Code, link.ID
	tx.undo = append(tx.undo, func() {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		delete(tx.links, code)
		delete(tx.linksByID, id)
	})
	return nil
}

func (tx *memTx) UpdateLink(ctx context.Context, code string, upd repository.LinkUpdate) error {
	restore := tx.snapshot(code)
	if err := tx.MemStorage.UpdateLink(ctx, code, upd); err != nil {
		return err
	}
	tx.undo = append(tx.undo, restore)
	return nil
}

func (tx *memTx) UpdateMetadata(ctx context.Context, code string, md domain.Metadata) error {
	restore := tx.snapshot(code)
	if err := tx.MemStorage.UpdateMetadata(ctx, code, md); err != nil {
		return err
	}
	tx.undo = append(tx.undo, restore)
	return nil
}

func (tx *memTx) DeleteLink(ctx context.Context, code string) (bool, error) {
	restore := tx.snapshot(code)
	wasActive, err := tx.MemStorage.DeleteLink(ctx, code)
	if err != nil {
		return false, err
	}
	tx.undo = append(tx.undo, restore)
	return wasActive, nil
}

func (tx *memTx) DeactivateLink(ctx context.Context, code string, now time.Time) (bool, error) {
	restore := tx.snapshot(code)
	flipped, err := tx.MemStorage.DeactivateLink(ctx, code, now)
	if err != nil || !flipped {
		return flipped, err
	}
	tx.undo = append(tx.undo, restore)
	return true, nil
}

func (tx *memTx) EnsureAccount(ctx context.Context, id int64, tier domain.Tier) (*domain.Account, error) {
	tx.mu.RLock()
	prev, existed := tx.accounts[id]
	var prevTier domain.Tier
	if existed {
		prevTier = prev.Tier
	}
	tx.mu.RUnlock()

	acc, err := tx.MemStorage.EnsureAccount(ctx, id, tier)
	if err != nil {
		return nil, err
	}
	tx.undo = append(tx.undo, func() {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		if !existed {
			delete(tx.accounts, id)
			return
		}
		if a, ok := tx.accounts[id]; ok {
			a.Tier = prevTier
		}
	})
	return acc, nil
}

func (tx *memTx) IncrementActiveLinks(ctx context.Context, id int64, ceiling int64) (bool, error) {
	ok, err := tx.MemStorage.IncrementActiveLinks(ctx, id, ceiling)
	if err != nil || !ok {
		return ok, err
	}
	tx.undo = append(tx.undo, func() { _, _ = tx.decrement(id) })
	return true, nil
}

func (tx *memTx) DecrementActiveLinks(_ context.Context, id int64) error {
	dec, err := tx.decrement(id)
	if err != nil {
		return err
	}
	if dec {
		tx.undo = append(tx.undo, func() {
			tx.mu.Lock()
			defer tx.mu.Unlock()
			if a, ok := tx.accounts[id]; ok {
				a.ActiveLinks++
			}
		})
	}
	return nil
}

// snapshot captures a link so it can be put back. The click counter is
// left as it is at rollback time since clicks are recorded outside transactions.
func (tx *memTx) snapshot(code string) func() {
	tx.mu.RLock()
	link, ok := tx.links[code]
	var saved *domain.Link
	wasDeleted := tx.deleted[code]
	if ok {
		saved = cloneLink(link)
	}
	tx.mu.RUnlock()

	return func() {
		if saved == nil {
			return
		}
		tx.mu.Lock()
		defer tx.mu.Unlock()
		if cur, ok := tx.links[code]; ok {
			saved.ClickCount = cur.ClickCount
		}
		tx.links[code] = saved
		if wasDeleted {
			tx.deleted[code] = true
		} else {
			delete(tx.deleted, code)
		}
	}
}
