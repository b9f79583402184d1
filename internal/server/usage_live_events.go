package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
	"github.com/smallbiznis/pointledger/internal/usage/liveevents"
)

const liveEventsHeartbeat = 15 * time.Second

// StreamUsageLiveEvents streams usage records as server-sent events. Admins
// follow their organization; everyone else follows their own account.
func (s *Server) StreamUsageLiveEvents(c *gin.Context) {
	if s.liveEvents == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrForbidden)
		return
	}
	key := liveEventsKey(identity)

	subscription, backlog, err := s.liveEvents.Subscribe(key)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}

	for _, event := range backlog {
		if err := writeUsageLiveEvent(writer, event); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(liveEventsHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-subscription.Events():
			if err := writeUsageLiveEvent(writer, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func liveEventsKey(identity ledgerdomain.Identity) string {
	if identity.Role == ledgerdomain.RoleOrganizationAdmin {
		return liveevents.OrganizationKey(identity.OrganizationID.String())
	}
	return liveevents.AccountKey(identity.AccountID.String())
}

func writeUsageLiveEvent(w io.Writer, event usagedomain.UsageRecord) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.EntryID, strings.TrimSpace(string(event.Kind)), data)
	return err
}
