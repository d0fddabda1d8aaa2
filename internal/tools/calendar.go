package tools

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// Calendar actions.
const (
	CalendarListCalendars = "list_calendars"
	CalendarListEvents    = "list_events"
	CalendarCreateEvent   = "create_event"
	CalendarGetEvent      = "get_event"
	CalendarDeleteEvent   = "delete_event"
)

// defaultCalendarID is the platform's alias for a user's main calendar.
const defaultCalendarID = "primary"

// CalendarParams are the parameters of one calendar action. UserID is
// required by every action; CalendarID defaults to the primary calendar.
type CalendarParams struct {
	UserID      string   `json:"userId,omitempty"`
	CalendarID  string   `json:"calendarId,omitempty"`
	EventID     string   `json:"eventId,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Description string   `json:"description,omitempty"`
	StartTime   string   `json:"startTime,omitempty"`
	EndTime     string   `json:"endTime,omitempty"`
	TimeMin     string   `json:"timeMin,omitempty"`
	TimeMax     string   `json:"timeMax,omitempty"`
	MaxResults  int      `json:"maxResults,omitempty"`
	NextToken   string   `json:"nextToken,omitempty"`
	AttendeeIDs []string `json:"attendeeIds,omitempty"`
}

// Calendar manages workspace calendars and events.
func (c *Client) Calendar(ctx context.Context, action string, p CalendarParams) Result {
	if p.UserID == "" {
		return failure("userId is required for calendar actions")
	}
	calendarID := p.CalendarID
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	base := "/v1.0/calendar/users/" + url.PathEscape(p.UserID) + "/calendars"
	events := base + "/" + url.PathEscape(calendarID) + "/events"

	switch action {
	case CalendarListCalendars:
		return c.call(ctx, http.MethodGet, base, nil, nil)

	case CalendarListEvents:
		query := url.Values{}
		if p.TimeMin != "" {
			query.Set("timeMin", p.TimeMin)
		}
		if p.TimeMax != "" {
			query.Set("timeMax", p.TimeMax)
		}
		if p.MaxResults > 0 {
			query.Set("maxResults", strconv.Itoa(p.MaxResults))
		}
		if p.NextToken != "" {
			query.Set("nextToken", p.NextToken)
		}
		return c.call(ctx, http.MethodGet, events, query, nil)

	case CalendarCreateEvent:
		if p.Summary == "" || p.StartTime == "" || p.EndTime == "" {
			return failure("summary, startTime, and endTime are required for %s", action)
		}
		body := map[string]any{
			"summary": p.Summary,
			"start":   map[string]string{"dateTime": p.StartTime},
			"end":     map[string]string{"dateTime": p.EndTime},
		}
		if p.Description != "" {
			body["description"] = p.Description
		}
		if len(p.AttendeeIDs) > 0 {
			attendees := make([]map[string]string, 0, len(p.AttendeeIDs))
			for _, id := range p.AttendeeIDs {
				attendees = append(attendees, map[string]string{"id": id})
			}
			body["attendees"] = attendees
		}
		return c.call(ctx, http.MethodPost, events, nil, body)

	case CalendarGetEvent:
		if p.EventID == "" {
			return failure("eventId is required for %s", action)
		}
		return c.call(ctx, http.MethodGet, events+"/"+url.PathEscape(p.EventID), nil, nil)

	case CalendarDeleteEvent:
		if p.EventID == "" {
			return failure("eventId is required for %s", action)
		}
		return c.call(ctx, http.MethodDelete, events+"/"+url.PathEscape(p.EventID), nil, nil)

	default:
		return failure("unknown calendar action %q", action)
	}
}
