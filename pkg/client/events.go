package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/robocam-suite/robocam/pkg/events"
)

const pingEvent = "ping"

// Events subscribes to the daemon event stream and calls fn for every event
// until ctx is cancelled, the daemon closes the stream, or fn returns an
// error. Heartbeats are not passed to fn.
func (c *Client) Events(ctx context.Context, fn func(events.Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/events"), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("got %d from event stream", resp.StatusCode)
	}

	var name string
	var data []string

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()

		switch {
		case line == "":
			if name != "" && name != pingEvent {
				ev := events.Event{Name: name, Data: json.RawMessage(strings.Join(data, "\n"))}
				if err := fn(ev); err != nil {
					return err
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil {
		return pkgerrors.Wrap(err, "event stream broken")
	}
	return nil
}
