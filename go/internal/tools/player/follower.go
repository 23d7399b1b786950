package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/quizlive/go/internal/countdown"
	"github.com/mcdev12/quizlive/go/internal/gateway"
	"github.com/mcdev12/quizlive/go/internal/room"
)

// follower prints the room as it changes
type follower struct {
	out     io.Writer
	now     func() time.Time
	seconds int
}

// handle prints msg and returns the navigation that ends the room, if any
func (f *follower) handle(msg gateway.Message) (*gateway.NavigatePayload, error) {
	switch msg.Type {
	case gateway.MessageTypeRoster:
		var view room.View
		if err := json.Unmarshal(msg.Data, &view); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(view.Participants))
		for _, p := range view.Participants {
			name := p.Nickname
			if p.ID == view.ParticipantID {
				name += " (you)"
			}
			names = append(names, name)
		}
		fmt.Fprintf(f.out, "waiting room [%s]: %s\n", view.Status, strings.Join(names, ", "))
	case gateway.MessageTypeStatus:
		var sp gateway.StatusPayload
		if err := json.Unmarshal(msg.Data, &sp); err != nil {
			return nil, err
		}
		fmt.Fprintf(f.out, "status: %s\n", sp.Status)
	case gateway.MessageTypeCountdown:
		var cp gateway.CountdownPayload
		if err := json.Unmarshal(msg.Data, &cp); err != nil {
			return nil, err
		}
		if cp.Seconds > 0 {
			f.seconds = cp.Seconds
		}
	case gateway.MessageTypeError:
		var ep gateway.ErrorPayload
		if err := json.Unmarshal(msg.Data, &ep); err != nil {
			return nil, err
		}
		fmt.Fprintf(f.out, "error: %s\n", ep.Message)
	case gateway.MessageTypeNavigate:
		var nav gateway.NavigatePayload
		if err := json.Unmarshal(msg.Data, &nav); err != nil {
			return nil, err
		}
		fmt.Fprintf(f.out, "-> %s (%s)\n", nav.URL, nav.Reason)
		return &nav, nil
	}
	return nil, nil
}

// countdown prints the seconds left until the game starts. Navigations without
// a start time fall back to "now".
func (f *follower) countdown(ctx context.Context, clock clockwork.Clock, nav gateway.NavigatePayload) {
	evt, ok, err := countdown.ParsePlayQuery(nav.Query)
	if err != nil || !ok {
		if nav.Reason == room.ReasonStarted {
			fmt.Fprintln(f.out, "game started")
		}
		return
	}

	total := time.Duration(f.seconds) * time.Second
	ticker := clock.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	last := -1
	for {
		left := countdown.SecondsLeft(evt.Time(), total, f.now())
		if left != last {
			last = left
			if left == 0 {
				fmt.Fprintln(f.out, "go!")
				return
			}
			fmt.Fprintf(f.out, "%d\n", left)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}
