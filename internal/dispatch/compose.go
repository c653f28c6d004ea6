package dispatch

import (
	"fmt"
	"strings"

	"github.com/heraldhq/herald/internal/db"
)

const scheduleLayout = "Mon, Jan 2 2006 3:04 PM MST"

func eventSubject(ev *db.Event) string {
	return "New Event: " + ev.Title
}

func instanceSubject(ev *db.Event) string {
	return "Event Reminder: " + ev.Title
}

// composeEventMessage builds the default announcement body for an
// event when the caller supplies no custom message.
func composeEventMessage(ev *db.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New Event: %s\n\n", ev.Title)
	if ev.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", ev.Description)
	}
	if len(ev.Tags) > 0 {
		names := make([]string, 0, len(ev.Tags))
		for _, t := range ev.Tags {
			names = append(names, t.Name)
		}
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(names, ", "))
	}
	if ev.ExternalURL != nil && *ev.ExternalURL != "" {
		fmt.Fprintf(&b, "More info: %s\n", *ev.ExternalURL)
	}
	writeOrganizer(&b, ev)
	return strings.TrimRight(b.String(), "\n")
}

// composeInstanceMessage builds the default reminder body for one
// scheduled occurrence, including its schedule and venue.
func composeInstanceMessage(inst *db.EventInstance) string {
	ev := inst.Event
	var b strings.Builder
	fmt.Fprintf(&b, "Event Reminder: %s\n\n", ev.Title)
	if ev.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", ev.Description)
	}
	fmt.Fprintf(&b, "When: %s - %s\n",
		inst.StartTime.Format(scheduleLayout), inst.EndTime.Format(scheduleLayout))
	if inst.IsVirtual {
		b.WriteString("Where: Online\n")
		if inst.VirtualMeetingURL != nil && *inst.VirtualMeetingURL != "" {
			fmt.Fprintf(&b, "Join: %s\n", *inst.VirtualMeetingURL)
		}
	} else if inst.Location != "" {
		fmt.Fprintf(&b, "Where: %s\n", inst.Location)
		if inst.Room != nil && *inst.Room != "" {
			fmt.Fprintf(&b, "Room: %s\n", *inst.Room)
		}
		if inst.Address != nil && *inst.Address != "" {
			fmt.Fprintf(&b, "Address: %s\n", *inst.Address)
		}
	}
	if ev.ExternalURL != nil && *ev.ExternalURL != "" {
		fmt.Fprintf(&b, "More info: %s\n", *ev.ExternalURL)
	}
	writeOrganizer(&b, ev)
	return strings.TrimRight(b.String(), "\n")
}

func writeOrganizer(b *strings.Builder, ev *db.Event) {
	if ev.OrganizerName != nil && *ev.OrganizerName != "" {
		fmt.Fprintf(b, "Organizer: %s\n", *ev.OrganizerName)
	}
	if ev.OrganizerEmail != nil && *ev.OrganizerEmail != "" {
		fmt.Fprintf(b, "Contact: %s\n", *ev.OrganizerEmail)
	}
	if ev.OrganizerPhone != nil && *ev.OrganizerPhone != "" {
		fmt.Fprintf(b, "Phone: %s\n", *ev.OrganizerPhone)
	}
}
