package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CustomField is a single (field id, value) pair of a ticket.
type CustomField struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

// Ticket is the normalized, flat representation of a remote support ticket.
type Ticket struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	URL      string `json:"url"`

	Subject     string `json:"subject"`
	Description string `json:"description"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RequesterID      int64  `json:"requester_id"`
	RequesterName    string `json:"requester_name"`
	AssigneeID       int64  `json:"assignee_id"`
	AssigneeName     string `json:"assignee_name"`
	GroupID          int64  `json:"group_id"`
	GroupName        string `json:"group_name"`
	OrganizationID   int64  `json:"organization_id"`
	OrganizationName string `json:"organization_name"`
	BrandID          int64  `json:"brand_id"`
	BrandName        string `json:"brand_name"`
	FormID           int64  `json:"form_id"`
	FormName         string `json:"form_name"`

	Tags         []string      `json:"tags"`
	CustomFields []CustomField `json:"custom_fields"`
}

// CanonicalHeader is the fixed first row of the canonical dataset.
var CanonicalHeader = []string{
	"id",
	"status",
	"group",
	"assignee",
	"created_date",
	"updated_date",
	"brand",
	"channel",
	"form",
	"priority",
	"subject",
	"type",
	"requester",
	"organization",
	"count",
}

// DetailHeader is the column order of per-run detail exports.
var DetailHeader = []string{
	"ticket_id",
	"subject",
	"status",
	"priority",
	"requester_id",
	"assignee_id",
	"created_at",
	"updated_at",
	"tags",
	"type",
	"channel",
	"url",
	"description",
	"custom_fields",
}

// Key returns the reconciliation key of the ticket.
func (t *Ticket) Key() string {
	return strconv.FormatInt(t.ID, 10)
}

// Row serializes the ticket into canonical column order.
func (t *Ticket) Row() []string {
	return []string{
		t.Key(),
		t.Status,
		t.GroupName,
		t.AssigneeName,
		formatDate(t.CreatedAt),
		formatDate(t.UpdatedAt),
		t.BrandName,
		t.Channel,
		t.FormName,
		t.Priority,
		t.Subject,
		t.Type,
		t.RequesterName,
		t.OrganizationName,
		"1",
	}
}

// DetailRow serializes the full ticket in DetailHeader order.
func (t *Ticket) DetailRow() []string {
	return []string{
		t.Key(),
		t.Subject,
		t.Status,
		t.Priority,
		optionalID(t.RequesterID),
		optionalID(t.AssigneeID),
		formatRFC3339(t.CreatedAt),
		formatRFC3339(t.UpdatedAt),
		t.TagsString(),
		t.Type,
		t.Channel,
		t.URL,
		t.Description,
		t.CustomFieldsString(),
	}
}

// TagsString joins tags the way the exports expect them.
func (t *Ticket) TagsString() string {
	return strings.Join(t.Tags, ", ")
}

// CustomFieldsString renders non-empty custom fields as "id:value|id:value".
func (t *Ticket) CustomFieldsString() string {
	parts := make([]string, 0, len(t.CustomFields))
	for _, cf := range t.CustomFields {
		if cf.Value == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d:%s", cf.ID, cf.Value))
	}
	return strings.Join(parts, "|")
}

// TruncateDescription cuts s to at most DescriptionLimit runes.
func TruncateDescription(s string) string {
	runes := []rune(s)
	if len(runes) <= DescriptionLimit {
		return s
	}
	return string(runes[:DescriptionLimit])
}

func formatDate(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(CanonicalDateLayout)
}

func formatRFC3339(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func optionalID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
