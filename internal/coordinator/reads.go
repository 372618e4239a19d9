package coordinator

import (
	"fmt"
	"time"

	"github.com/marcus/tabsync/internal/store"
)

// TabView is a read-only projection of one open canonical tab.
type TabView struct {
	ID           string    `json:"id"`
	Position     int       `json:"position"`
	URL          string    `json:"url"`
	LastModified time.Time `json:"lastModified"`
}

// Status summarizes the coordinator's current state.
type Status struct {
	OpenTabs       int      `json:"openTabs"`
	PendingCreates int      `json:"pendingCreates"`
	Connected      []string `json:"connected"`
}

// Tabs returns the open canonical tabs in position order.
func (c *Coordinator) Tabs() ([]TabView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.store.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	tabs, err := store.OpenTabs(tx)
	if err != nil {
		return nil, err
	}
	views := make([]TabView, 0, len(tabs))
	for _, t := range tabs {
		views = append(views, TabView{
			ID:           t.ID,
			Position:     *t.Position,
			URL:          t.URL,
			LastModified: t.LastModified,
		})
	}
	return views, tx.Commit()
}

// CurrentStatus reports tab and ledger counts plus connected client ids.
func (c *Coordinator) CurrentStatus() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var st Status
	tx, err := c.store.Begin()
	if err != nil {
		return st, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if st.OpenTabs, err = store.OpenTabCount(tx); err != nil {
		return st, err
	}
	if st.PendingCreates, err = store.PendingCount(tx); err != nil {
		return st, err
	}
	if err := tx.Commit(); err != nil {
		return st, err
	}
	st.Connected = c.Connected()
	return st, nil
}
