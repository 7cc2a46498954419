package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"caseline/internal/domain"
	"caseline/internal/repo"
)

const (
	ActorRegistered   = "actor.registered"
	ActorVerified     = "actor.verified"
	ActorRejected     = "actor.rejected"
	CaseworkerCreated = "caseworker.created"
	CaseFiled         = "case.filed"
	CaseAssigned      = "case.assigned"
	CaseStatusChanged = "case.status_changed"
	DocumentAdded     = "document.added"
)

type Writer struct {
	Store repo.Store
	Now   func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, evtType, entityKind, entityID, actorID string, payload EventPayload) (domain.Event, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return w.Store.AppendEvent(ctx, domain.Event{
		TS:         w.Now().UTC().Format(time.RFC3339),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	})
}
