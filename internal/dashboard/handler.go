package dashboard

import (
	"log"

	"github.com/shopkeep/shopsync/internal/store"
	syncer "github.com/shopkeep/shopsync/internal/sync"
)

// Handler subscribes to store changes and coordinator status and formats
// them as dashboard messages. It bridges between the sync core and the
// WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger

	unsubscribe []func()
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		logger: logger,
	}
}

// Attach subscribes to the server's store and coordinator.
func (h *Handler) Attach() {
	h.unsubscribe = append(h.unsubscribe,
		h.server.store.Subscribe(h.OnChange),
		h.server.coord.Subscribe(h.OnStatus),
	)
}

// Detach removes all subscriptions.
func (h *Handler) Detach() {
	for _, fn := range h.unsubscribe {
		fn()
	}
	h.unsubscribe = nil
}

// OnChange handles store change events
func (h *Handler) OnChange(c store.Change) {
	data := RecordUpdateData{
		Tenant:     c.Tenant,
		Collection: c.Collection,
		ID:         c.ID,
		Action:     string(c.Kind),
	}
	if c.Record != nil {
		data.UpdatedAt = c.Record.UpdatedAt
	}

	msg, err := newMessage(MessageTypeRecordUpdate, data)
	if err != nil {
		h.logger.Printf("Failed to format change: %v", err)
		return
	}
	h.server.Broadcast(msg)

	// Merges arrive in bursts; stats follow the sync status instead
	if c.Kind != store.ChangeMerge {
		h.broadcastStats()
	}
}

// OnStatus handles coordinator status events
func (h *Handler) OnStatus(ev syncer.StatusEvent) {
	data := SyncStatusData{
		Status: string(ev.Status),
		Reason: string(ev.Reason),
		Tenant: ev.Tenant,
	}
	if res := ev.Result; res != nil {
		data.Pulled, data.Pushed, data.Deleted = res.Totals()
		data.Discarded = res.Discarded
		for _, c := range res.Collections {
			if c.Err != nil {
				data.Errors = append(data.Errors, c.Collection+": "+c.Err.Error())
			}
		}
	}

	msg, err := newMessage(MessageTypeSyncStatus, data)
	if err != nil {
		h.logger.Printf("Failed to format status: %v", err)
		return
	}
	h.server.Broadcast(msg)

	if ev.Result != nil {
		h.broadcastStats()
	}
}

func (h *Handler) broadcastStats() {
	msg, err := h.server.statsMessage()
	if err != nil {
		h.logger.Printf("Failed to format stats: %v", err)
		return
	}
	h.server.Broadcast(msg)
}
