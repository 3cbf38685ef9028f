// Package transport defines the operator API request and response shapes
// for campaign rounds.
package transport

import (
	"time"

	"campaign_backend/internal/maintenance"
	"campaign_backend/internal/rounds/domain"
	"campaign_backend/internal/scheduler/jobs"

	"github.com/google/uuid"
)

// RoundSpec describes one round of a new campaign.
type RoundSpec struct {
	ScheduledAt    time.Time `json:"scheduledAt" validate:"required"`
	ListID         string    `json:"listId" validate:"required,max=200"`
	RecipientCount int       `json:"recipientCount" validate:"required,min=1"`
}

// CreateCampaignRequest registers a campaign's rounds. Round numbers are
// assigned from the slice order, starting at one.
type CreateCampaignRequest struct {
	CampaignName string      `json:"campaignName" validate:"required,min=1,max=200"`
	Rounds       []RoundSpec `json:"rounds" validate:"required,min=1,max=50,dive"`
}

// TriggerStageRequest manually fires a stage for recovery. It goes through
// the same transition validation as the scheduled path.
type TriggerStageRequest struct {
	Stage string `json:"stage" validate:"required,oneof=pre_launch pre_flight launch_warning launch wrap_up maintenance"`
}

// RescheduleRequest moves a round's launch instant.
type RescheduleRequest struct {
	ScheduledAt time.Time `json:"scheduledAt" validate:"required"`
}

// StageJobResponse is one registered stage trigger.
type StageJobResponse struct {
	Stage     string    `json:"stage"`
	FireAt    time.Time `json:"fireAt"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError *string   `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RoundResponse is the operator view of a round.
type RoundResponse struct {
	ID                 uuid.UUID          `json:"id"`
	CampaignName       string             `json:"campaignName"`
	RoundNumber        int                `json:"roundNumber"`
	ScheduledAt        time.Time          `json:"scheduledAt"`
	ListID             string             `json:"listId"`
	RecipientCount     int                `json:"recipientCount"`
	State              string             `json:"state"`
	NotificationStatus map[string]string  `json:"notificationStatus"`
	ExternalCampaignID *string            `json:"externalCampaignId,omitempty"`
	Metrics            *MetricsResponse   `json:"metrics,omitempty"`
	Jobs               []StageJobResponse `json:"jobs,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// MetricsResponse mirrors the provider's delivery numbers.
type MetricsResponse struct {
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Opened    int `json:"opened"`
	Clicked   int `json:"clicked"`
	Bounced   int `json:"bounced"`
}

// MaintenanceLogResponse is one maintenance run record.
type MaintenanceLogResponse struct {
	ID            uuid.UUID      `json:"id"`
	RoundID       uuid.UUID      `json:"roundId"`
	BeforeState   map[string]int `json:"beforeState"`
	Suppressed    int            `json:"suppressed"`
	SuppressedIDs []string       `json:"suppressedIds,omitempty"`
	AfterState    map[string]int `json:"afterState"`
	Outcome       string         `json:"outcome"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// FromRound converts a domain round to its response shape.
func FromRound(r domain.Round) RoundResponse {
	status := make(map[string]string, len(r.NotificationStatus))
	for stage, state := range r.NotificationStatus {
		status[string(stage)] = string(state)
	}

	resp := RoundResponse{
		ID:                 r.ID,
		CampaignName:       r.CampaignName,
		RoundNumber:        r.RoundNumber,
		ScheduledAt:        r.ScheduledAt,
		ListID:             r.ListID,
		RecipientCount:     r.RecipientCount,
		State:              string(r.State),
		NotificationStatus: status,
		ExternalCampaignID: r.ExternalCampaignID,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.Metrics != nil {
		resp.Metrics = &MetricsResponse{
			Sent:      r.Metrics.Sent,
			Delivered: r.Metrics.Delivered,
			Opened:    r.Metrics.Opened,
			Clicked:   r.Metrics.Clicked,
			Bounced:   r.Metrics.Bounced,
		}
	}
	return resp
}

// FromJobs converts stage job rows to their response shape.
func FromJobs(list []jobs.Job) []StageJobResponse {
	out := make([]StageJobResponse, 0, len(list))
	for _, j := range list {
		out = append(out, StageJobResponse{
			Stage:     string(j.Stage),
			FireAt:    j.FireAt,
			Status:    string(j.Status),
			Attempts:  j.Attempts,
			LastError: j.LastError,
			UpdatedAt: j.UpdatedAt,
		})
	}
	return out
}

// FromMaintenanceLogs converts maintenance run records to their response shape.
func FromMaintenanceLogs(logs []maintenance.Log) []MaintenanceLogResponse {
	out := make([]MaintenanceLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, MaintenanceLogResponse{
			ID:            l.ID,
			RoundID:       l.RoundID,
			BeforeState:   l.BeforeState,
			Suppressed:    l.Suppressed,
			SuppressedIDs: l.SuppressedIDs,
			AfterState:    l.AfterState,
			Outcome:       string(l.Outcome),
			CreatedAt:     l.CreatedAt,
		})
	}
	return out
}
