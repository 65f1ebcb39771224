package daemon

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

var sseHeartbeat = 15 * time.Second

// streamEvents forwards hub events to the client as server-sent events until
// the client goes away.
func streamEvents(c *gin.Context) {
	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	// Let the client know the stream is open before the first event.
	c.SSEvent("ping", time.Now().Unix())
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case t := <-ticker.C:
			c.SSEvent("ping", t.Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
