package zendesk

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ticketsync/internal/models"
)

// sideloads requested with every ticket call so names resolve without extra lookups.
const sideloads = "users,groups,organizations,brands,ticket_forms"

type namedRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type rawCustomField struct {
	ID    int64           `json:"id"`
	Value json.RawMessage `json:"value"`
}

type rawVia struct {
	Channel string `json:"channel"`
}

type rawTicket struct {
	ID             int64            `json:"id"`
	URL            string           `json:"url"`
	Subject        string           `json:"subject"`
	Description    string           `json:"description"`
	Status         string           `json:"status"`
	Priority       string           `json:"priority"`
	Type           string           `json:"type"`
	RequesterID    *int64           `json:"requester_id"`
	AssigneeID     *int64           `json:"assignee_id"`
	GroupID        *int64           `json:"group_id"`
	OrganizationID *int64           `json:"organization_id"`
	BrandID        *int64           `json:"brand_id"`
	TicketFormID   *int64           `json:"ticket_form_id"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at"`
	Tags           []string         `json:"tags"`
	Via            *rawVia          `json:"via"`
	CustomFields   []rawCustomField `json:"custom_fields"`
}

type sideloaded struct {
	Users         []namedRef `json:"users"`
	Groups        []namedRef `json:"groups"`
	Organizations []namedRef `json:"organizations"`
	Brands        []namedRef `json:"brands"`
	TicketForms   []namedRef `json:"ticket_forms"`
}

type listResponse struct {
	sideloaded
	Tickets  []rawTicket `json:"tickets"`
	NextPage *string     `json:"next_page"`
	Count    *int64      `json:"count"`
	Links    *struct {
		Next string `json:"next"`
	} `json:"links"`
	Meta *struct {
		HasMore bool `json:"has_more"`
	} `json:"meta"`
}

func (r *listResponse) next() string {
	if r.Meta != nil && !r.Meta.HasMore {
		return ""
	}
	if r.NextPage != nil && *r.NextPage != "" {
		return *r.NextPage
	}
	if r.Links != nil {
		return r.Links.Next
	}
	return ""
}

type showResponse struct {
	sideloaded
	Ticket *rawTicket `json:"ticket"`
}

type countResponse struct {
	Count struct {
		Value int64 `json:"value"`
	} `json:"count"`
}

// lookup maps side-loaded ids to display names.
type lookup map[int64]string

func newLookup(refs []namedRef) lookup {
	l := make(lookup, len(refs))
	for _, r := range refs {
		l[r.ID] = r.Name
	}
	return l
}

// name resolves id; unknown or missing ids give an empty name.
func (l lookup) name(id *int64) string {
	if id == nil {
		return ""
	}
	return l[*id]
}

type lookups struct {
	users, groups, orgs, brands, forms lookup
}

func newLookups(s sideloaded) lookups {
	return lookups{
		users:  newLookup(s.Users),
		groups: newLookup(s.Groups),
		orgs:   newLookup(s.Organizations),
		brands: newLookup(s.Brands),
		forms:  newLookup(s.TicketForms),
	}
}

func normalize(raw *rawTicket, refs lookups) (models.Ticket, error) {
	if raw.ID <= 0 {
		return models.Ticket{}, fmt.Errorf("ticket without id")
	}

	t := models.Ticket{
		ID:               raw.ID,
		URL:              raw.URL,
		Subject:          raw.Subject,
		Description:      models.TruncateDescription(raw.Description),
		Status:           raw.Status,
		Priority:         raw.Priority,
		Type:             raw.Type,
		RequesterID:      deref(raw.RequesterID),
		RequesterName:    refs.users.name(raw.RequesterID),
		AssigneeID:       deref(raw.AssigneeID),
		AssigneeName:     refs.users.name(raw.AssigneeID),
		GroupID:          deref(raw.GroupID),
		GroupName:        refs.groups.name(raw.GroupID),
		OrganizationID:   deref(raw.OrganizationID),
		OrganizationName: refs.orgs.name(raw.OrganizationID),
		BrandID:          deref(raw.BrandID),
		BrandName:        refs.brands.name(raw.BrandID),
		FormID:           deref(raw.TicketFormID),
		FormName:         refs.forms.name(raw.TicketFormID),
		Tags:             append([]string(nil), raw.Tags...),
	}
	if raw.Via != nil {
		t.Channel = raw.Via.Channel
	}

	var err error
	if t.CreatedAt, err = parseTime(raw.CreatedAt); err != nil {
		return t, fmt.Errorf("ticket %d created_at: %w", raw.ID, err)
	}
	if t.UpdatedAt, err = parseTime(raw.UpdatedAt); err != nil {
		return t, fmt.Errorf("ticket %d updated_at: %w", raw.ID, err)
	}

	for _, cf := range raw.CustomFields {
		value := customFieldValue(cf.Value)
		if value == "" {
			continue
		}
		t.CustomFields = append(t.CustomFields, models.CustomField{ID: cf.ID, Value: value})
	}

	return t, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// customFieldValue flattens the JSON value of a custom field; null and "" become empty.
func customFieldValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}

	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return strings.TrimSpace(string(raw))
	}
}

func deref(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
