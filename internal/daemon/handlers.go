package daemon

import (
	"encoding/json"
	"errors"

	"github.com/bellmanlabs/bellman/internal/model"
	"github.com/bellmanlabs/bellman/internal/stream"
	"github.com/bellmanlabs/bellman/internal/uds"
)

// EnqueueParams is the payload of the enqueue op.
type EnqueueParams struct {
	TenantID      string         `json:"tenant_id"`
	CorrelationID string         `json:"correlation_id"`
	CommandType   string         `json:"command_type"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// EventsListParams filters the events_list op.
type EventsListParams struct {
	TenantID string `json:"tenant_id,omitempty"`
	After    int64  `json:"after,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// SubCreateParams creates a subscription.
type SubCreateParams struct {
	TenantID    string `json:"tenant_id"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// SubReplayParams replays a subscription, optionally from an explicit
// cursor.
type SubReplayParams struct {
	SubscriptionID string `json:"subscription_id"`
	After          *int64 `json:"after,omitempty"`
}

// DLQListParams filters the dlq_list op.
type DLQListParams struct {
	ActiveOnly bool `json:"active_only,omitempty"`
}

func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(*uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok", "project": d.config.Project.Name})
	})

	d.server.Handle("enqueue", d.handleEnqueue)
	d.server.Handle("queue_status", d.handleQueueStatus)
	d.server.Handle("events_list", d.handleEventsList)
	d.server.Handle("sub_create", d.handleSubCreate)
	d.server.Handle("sub_replay", d.handleSubReplay)
	d.server.Handle("dlq_list", d.handleDLQList)

	d.server.Handle("shutdown", func(*uds.Request) *uds.Response {
		d.log(model.LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) handleEnqueue(req *uds.Request) *uds.Response {
	var params EnqueueParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, "invalid enqueue params: "+err.Error())
	}
	if params.TenantID == "" || params.CommandType == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "tenant_id and command_type are required")
	}

	cmd := model.NewCommand(
		params.TenantID,
		params.CorrelationID,
		model.CommandType(params.CommandType),
		d.config.Project.PermissionManifestVersion,
		params.Payload,
	)
	if err := d.queue.Enqueue(cmd); err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	d.log(model.LogLevelInfo, "enqueued %s (%s) via UDS", cmd.ExecutionID, cmd.CommandType)
	return uds.SuccessResponse(map[string]string{"execution_id": cmd.ExecutionID})
}

func (d *Daemon) handleQueueStatus(*uds.Request) *uds.Response {
	pending, err := d.queue.ListPending()
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(map[string]any{
		"pending": len(pending),
		"entries": pending,
	})
}

func (d *Daemon) handleEventsList(req *uds.Request) *uds.Response {
	var params EventsListParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, "invalid events_list params: "+err.Error())
		}
	}
	envelopes := d.stream.List(stream.ListOptions{
		TenantID: params.TenantID,
		After:    params.After,
		Limit:    params.Limit,
	})
	return uds.SuccessResponse(map[string]any{
		"events": envelopes,
		"total":  d.stream.Len(),
	})
}

func (d *Daemon) handleSubCreate(req *uds.Request) *uds.Response {
	var params SubCreateParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, "invalid sub_create params: "+err.Error())
	}
	if params.TenantID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "tenant_id is required")
	}
	sub := d.stream.CreateSubscription(params.TenantID, params.CallbackURL)
	return uds.SuccessResponse(sub)
}

func (d *Daemon) handleSubReplay(req *uds.Request) *uds.Response {
	var params SubReplayParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, "invalid sub_replay params: "+err.Error())
	}

	envelopes, err := d.stream.ReplaySubscription(params.SubscriptionID, params.After)
	if err != nil {
		var nf *model.NotFoundError
		if errors.As(err, &nf) {
			return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
		}
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(map[string]any{"events": envelopes})
}

func (d *Daemon) handleDLQList(req *uds.Request) *uds.Response {
	var params DLQListParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, "invalid dlq_list params: "+err.Error())
		}
	}

	var (
		entries []model.DeadLetterEntry
		err     error
	)
	if params.ActiveOnly {
		entries, err = d.deadLetters.ListActive(d.ctx)
	} else {
		entries, err = d.deadLetters.List(d.ctx)
	}
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(map[string]any{"entries": entries})
}
