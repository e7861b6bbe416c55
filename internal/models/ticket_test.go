package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketRow(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	ticket := Ticket{
		ID:               42,
		Status:           "open",
		Priority:         "high",
		Type:             "incident",
		Channel:          "email",
		Subject:          "Printer on fire",
		CreatedAt:        created,
		UpdatedAt:        created.Add(time.Hour),
		RequesterName:    "Ada",
		AssigneeName:     "Linus",
		GroupName:        "Support",
		OrganizationName: "ACME",
		BrandName:        "Main",
		FormName:         "Default",
	}

	row := ticket.Row()
	assert.Len(t, row, len(CanonicalHeader))
	assert.Equal(t, []string{
		"42", "open", "Support", "Linus",
		"2025-03-01 09:30:00", "2025-03-01 10:30:00",
		"Main", "email", "Default", "high", "Printer on fire", "incident",
		"Ada", "ACME", "1",
	}, row)
}

func TestTicketRowZeroDates(t *testing.T) {
	ticket := Ticket{ID: 1}
	row := ticket.Row()
	assert.Equal(t, "", row[4])
	assert.Equal(t, "", row[5])
}

func TestCustomFieldsString(t *testing.T) {
	ticket := Ticket{CustomFields: []CustomField{
		{ID: 1, Value: "a"},
		{ID: 2, Value: ""},
		{ID: 3, Value: "c"},
	}}
	assert.Equal(t, "1:a|3:c", ticket.CustomFieldsString())

	empty := Ticket{}
	assert.Equal(t, "", empty.CustomFieldsString())
}

func TestTagsString(t *testing.T) {
	ticket := Ticket{Tags: []string{"vip", "billing"}}
	assert.Equal(t, "vip, billing", ticket.TagsString())
}

func TestDetailRow(t *testing.T) {
	ticket := Ticket{
		ID:           42,
		Subject:      "Printer",
		Status:       "open",
		AssigneeID:   7,
		CreatedAt:    time.Date(2024, 3, 1, 8, 0, 0, 0, time.FixedZone("CET", 3600)),
		Tags:         []string{"vip", "billing"},
		Channel:      "email",
		Description:  "paper jam",
		CustomFields: []CustomField{{ID: 1, Value: "a"}, {ID: 2}},
	}

	row := ticket.DetailRow()
	require.Len(t, row, len(DetailHeader))
	assert.Equal(t, "42", row[0])
	assert.Equal(t, "", row[4])
	assert.Equal(t, "7", row[5])
	assert.Equal(t, "2024-03-01T07:00:00Z", row[6])
	assert.Equal(t, "", row[7])
	assert.Equal(t, "vip, billing", row[8])
	assert.Equal(t, "email", row[10])
	assert.Equal(t, "paper jam", row[12])
	assert.Equal(t, "1:a", row[13])
}

func TestTruncateDescription(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, TruncateDescription(short))

	long := strings.Repeat("é", DescriptionLimit+20)
	got := TruncateDescription(long)
	assert.Equal(t, DescriptionLimit, len([]rune(got)))
}

func TestProgressTerminal(t *testing.T) {
	assert.False(t, IdleProgress().Terminal())
	assert.False(t, Progress{State: StateRunning}.Terminal())
	assert.True(t, Progress{State: StateDone}.Terminal())
	assert.True(t, Progress{State: StateError}.Terminal())
}
