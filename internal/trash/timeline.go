package trash

import (
	"sort"
	"time"

	"homora/internal/models"
)

// Timeline group labels, in display order.
const (
	GroupToday     = "Today"
	GroupYesterday = "Yesterday"
	GroupLastWeek  = "Last 7 Days"
	GroupOlder     = "Older"
)

var groupOrder = []string{GroupToday, GroupYesterday, GroupLastWeek, GroupOlder}

// TimelineItem is one row of the project history.
type TimelineItem struct {
	ID        string          `json:"id"`
	Type      models.ItemType `json:"type"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"created_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
}

func (t TimelineItem) at() time.Time {
	if t.DeletedAt != nil {
		return *t.DeletedAt
	}
	return t.CreatedAt
}

type TimelineGroup struct {
	Label string         `json:"label"`
	Items []TimelineItem `json:"items"`
}

// Timeline merges active conversations and documents with trashed items, newest first by
// deletion (or creation) time, grouped by calendar day relative to now. Empty groups are
// omitted.
func Timeline(now time.Time, conversations []models.ConversationSummary, documents []models.Document, trashed []models.TrashItem) []TimelineGroup {
	items := make([]TimelineItem, 0, len(conversations)+len(documents)+len(trashed))
	for _, c := range conversations {
		title := c.Title
		if title == "" {
			title = "Untitled conversation"
		}
		items = append(items, TimelineItem{ID: c.ID, Type: models.ItemConversation, Title: title, CreatedAt: c.CreatedAt})
	}
	for _, d := range documents {
		items = append(items, TimelineItem{ID: d.ID, Type: models.ItemDocument, Title: d.Filename, CreatedAt: d.CreatedAt})
	}
	for _, t := range trashed {
		deleted := t.DeletedAt
		items = append(items, TimelineItem{ID: t.ID, Type: t.Type, Title: t.Title, CreatedAt: t.CreatedAt, DeletedAt: &deleted})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].at().After(items[j].at()) })

	byLabel := make(map[string][]TimelineItem, len(groupOrder))
	for _, item := range items {
		label := GroupLabel(now, item.at())
		byLabel[label] = append(byLabel[label], item)
	}
	var groups []TimelineGroup
	for _, label := range groupOrder {
		if len(byLabel[label]) == 0 {
			continue
		}
		groups = append(groups, TimelineGroup{Label: label, Items: byLabel[label]})
	}
	return groups
}

// GroupLabel buckets t by whole calendar days before now, in now's location. Times after
// now count as today.
func GroupLabel(now, t time.Time) string {
	loc := now.Location()
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	ty, tm, td := t.In(loc).Date()
	day := time.Date(ty, tm, td, 0, 0, 0, 0, loc)
	// Round to absorb DST-length days.
	days := int(today.Sub(day).Round(24*time.Hour) / (24 * time.Hour))
	switch {
	case days <= 0:
		return GroupToday
	case days == 1:
		return GroupYesterday
	case days <= 7:
		return GroupLastWeek
	default:
		return GroupOlder
	}
}
