package models

import (
	"context"
	"sort"

	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/shopspring/decimal"
)

type ContainerProgress struct {
	DeckId   *string `json:"deck_id,omitempty"`
	Group    string  `json:"group,omitempty"`
	Name     string  `json:"name"`
	Colors   string  `json:"colors,omitempty"`
	Total    int     `json:"total"`
	Reviewed int     `json:"reviewed"`
	Verified int     `json:"verified"`
	// reviewed >= total, mismatches or not
	Complete bool `json:"complete"`
}

type CollectionProgress struct {
	Total    int                 `json:"total"`
	Reviewed int                 `json:"reviewed"`
	Verified int                 `json:"verified"`
	Complete bool                `json:"complete"`
	Groups   []ContainerProgress `json:"groups"`
}

type AuditMismatch struct {
	ItemId          int        `json:"item_id"`
	ScryfallId      string     `json:"scryfall_id"`
	Name            string     `json:"name"`
	SetCode         string     `json:"set_code"`
	CollectorNumber string     `json:"collector_number"`
	Finish          CardFinish `json:"finish"`
	DeckId          *string    `json:"deck_id"`
	Group           string     `json:"group"`
	Expected        int        `json:"expected"`
	Scanned         int        `json:"scanned"`
	Diff            int        `json:"diff"`
}

type AuditStats struct {
	SessionId       int                 `json:"session_id"`
	Total           int                 `json:"total"`
	Reviewed        int                 `json:"reviewed"`
	Verified        int                 `json:"verified"`
	PercentComplete int                 `json:"percent_complete"`
	Decks           []ContainerProgress `json:"decks"`
	Collection      CollectionProgress  `json:"collection"`
	Mismatches      []AuditMismatch     `json:"mismatches"`
}

// GetAuditStats folds the current items of a session owned by ownerId.
// Nothing is cached; two reads with no mutation in between are identical.
func GetAuditStats(ctx context.Context, ownerId string, sessionId int) (*AuditStats, error) {
	session, err := GetAuditSession(ctx, ownerId, sessionId)
	if err != nil {
		return nil, err
	}
	var items []AuditItem
	if err := config.GetDB().WithContext(ctx).Where("session_id = ?", session.ID).Order("id").Find(&items).Error; err != nil {
		return nil, err
	}

	var deckIds []string
	for i := range items {
		if items[i].DeckId != nil {
			deckIds = append(deckIds, *items[i].DeckId)
		}
	}
	deckLabels := map[string]DeckLabel{}
	if len(deckIds) > 0 {
		labels, err := GetDeckCatalog().DeckLabels(ctx, ownerId, deckIds)
		if err != nil {
			// labels are cosmetic; stats stay correct without them
			config.LogError(config.GetLogger(), "AuditStats", "GetAuditStats", "deck labels", session.ID, err)
		} else {
			deckLabels = labels
		}
	}

	stats := ComputeAuditStats(items, deckLabels)
	stats.SessionId = session.ID
	return &stats, nil
}

// ComputeAuditStats is the pure fold behind GetAuditStats.
func ComputeAuditStats(items []AuditItem, deckLabels map[string]DeckLabel) AuditStats {
	stats := AuditStats{
		Decks:      []ContainerProgress{},
		Collection: CollectionProgress{Groups: []ContainerProgress{}},
		Mismatches: []AuditMismatch{},
	}

	decks := map[string]*ContainerProgress{}
	groups := map[string]*ContainerProgress{}
	for i := range items {
		item := &items[i]
		reviewed := item.ReviewState != ReviewStatePending
		verified := item.ReviewState == ReviewStateMatched

		var c *ContainerProgress
		if item.DeckId != nil {
			id := *item.DeckId
			if c = decks[id]; c == nil {
				label := deckLabels[id]
				c = &ContainerProgress{DeckId: item.DeckId, Name: label.Name, Colors: label.Colors}
				if c.Name == "" {
					c.Name = id
				}
				decks[id] = c
			}
		} else {
			if c = groups[item.GroupKey]; c == nil {
				c = &ContainerProgress{Group: item.GroupKey, Name: item.GroupKey}
				groups[item.GroupKey] = c
			}
			stats.Collection.Total++
			if reviewed {
				stats.Collection.Reviewed++
			}
			if verified {
				stats.Collection.Verified++
			}
		}

		stats.Total++
		c.Total++
		if reviewed {
			stats.Reviewed++
			c.Reviewed++
		}
		if verified {
			stats.Verified++
			c.Verified++
		}

		if item.ReviewState == ReviewStateMismatched && item.ScannedQty != nil {
			stats.Mismatches = append(stats.Mismatches, AuditMismatch{
				ItemId:          item.ID,
				ScryfallId:      item.ScryfallId,
				Name:            item.Name,
				SetCode:         item.SetCode,
				CollectorNumber: item.CollectorNumber,
				Finish:          item.Finish,
				DeckId:          item.DeckId,
				Group:           item.GroupKey,
				Expected:        item.ExpectedQty,
				Scanned:         *item.ScannedQty,
				Diff:            *item.ScannedQty - item.ExpectedQty,
			})
		}
	}

	stats.PercentComplete = percentComplete(stats.Reviewed, stats.Total)
	stats.Collection.Complete = stats.Collection.Reviewed >= stats.Collection.Total

	for _, c := range decks {
		c.Complete = c.Reviewed >= c.Total
		stats.Decks = append(stats.Decks, *c)
	}
	sort.Slice(stats.Decks, func(i, j int) bool {
		if stats.Decks[i].Name != stats.Decks[j].Name {
			return stats.Decks[i].Name < stats.Decks[j].Name
		}
		return *stats.Decks[i].DeckId < *stats.Decks[j].DeckId
	})
	for _, c := range groups {
		c.Complete = c.Reviewed >= c.Total
		stats.Collection.Groups = append(stats.Collection.Groups, *c)
	}
	sort.Slice(stats.Collection.Groups, func(i, j int) bool {
		return stats.Collection.Groups[i].Group < stats.Collection.Groups[j].Group
	})
	sort.SliceStable(stats.Mismatches, func(i, j int) bool {
		a, b := stats.Mismatches[i], stats.Mismatches[j]
		if ka, kb := mismatchContainerKey(a), mismatchContainerKey(b); ka != kb {
			return ka < kb
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ItemId < b.ItemId
	})
	return stats
}

// round(reviewed / total * 100), halves away from zero
func percentComplete(reviewed int, total int) int {
	if total == 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(reviewed)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(0)
	return int(pct.IntPart())
}

func mismatchContainerKey(m AuditMismatch) string {
	if m.DeckId != nil {
		return "deck:" + *m.DeckId
	}
	return "group:" + m.Group
}
