package dto

import (
	"testing"
	"time"

	"timebank-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTimeline(t *testing.T) {
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	client, freelancer := uuid.New(), uuid.New()
	record := domain.NewEscrowRecord(client, freelancer, uuid.New(), 250, "translation", created, 72*time.Hour)

	held := domain.EscrowStatusHeld
	events := []domain.EscrowEvent{
		*domain.NewEscrowEvent(record, domain.EventEscrowCreated, nil, domain.UserActor(client), domain.RoleClient, "", created),
	}
	record.Status = domain.EscrowStatusReleased
	events = append(events, *domain.NewEscrowEvent(record, domain.EventEscrowReleased, &held, domain.SystemActor, domain.RoleSystem, "", created.Add(72*time.Hour)))

	resp := FromTimeline(domain.BuildTimeline(record, events, created.Add(80*time.Hour)))

	require.Len(t, resp.Events, 2)
	assert.Nil(t, resp.Events[0].FromStatus)
	assert.Equal(t, client.String(), *resp.Events[0].ActorID)
	assert.Equal(t, "held", *resp.Events[1].FromStatus)
	assert.Nil(t, resp.Events[1].ActorID)
	assert.Equal(t, "system", resp.Events[1].ActorRole)
	assert.Nil(t, resp.AutoReleaseInSeconds)
	assert.Equal(t, "2026-05-04T09:00:00Z", resp.Escrow.AutoReleaseAt)
}

func TestFromDispute_Resolved(t *testing.T) {
	now := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	record := domain.NewEscrowRecord(uuid.New(), uuid.New(), uuid.New(), 100, "", now, 0)
	d := domain.NewDispute(record, record.ClientID, "no delivery", now)
	admin := uuid.New()
	d.Resolve(domain.DecisionRefund, "refunded", &admin, now.Add(time.Hour))

	resp := FromDispute(d)

	assert.Equal(t, "resolved", resp.Status)
	assert.Equal(t, "refund", *resp.Decision)
	assert.Equal(t, admin.String(), *resp.ResolvedBy)
	assert.Equal(t, record.FreelancerID.String(), resp.RespondentID)
}
