package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/msageha/observatory/internal/orchestrator"
	"github.com/msageha/observatory/internal/safety"
	"github.com/msageha/observatory/internal/scheduler"
	"github.com/msageha/observatory/internal/store"
	"github.com/msageha/observatory/internal/uds"
)

const commandTimeout = 10 * time.Second

// StatusData is the payload of the status command.
type StatusData struct {
	orchestrator.Status
	Safety safety.Report `json:"safety"`
	PID    int           `json:"pid"`
}

// HistoryItem is one selection made tonight.
type HistoryItem struct {
	Time        time.Time `json:"time"`
	Observation string    `json:"observation"`
}

// HistoryData is the payload of observation_history. Recorded holds the
// stored selections when the store is enabled.
type HistoryData struct {
	Tonight  []HistoryItem     `json:"tonight"`
	Recorded []store.Selection `json:"recorded,omitempty"`
}

// RankItem is one surviving candidate of a rank request.
type RankItem struct {
	Observation string  `json:"observation"`
	Score       float64 `json:"score"`
	Priority    float64 `json:"priority"`
}

type nameParams struct {
	Name string `json:"name"`
}

type limitParams struct {
	Limit int `json:"limit"`
}

type rankParams struct {
	Time *time.Time `json:"time,omitempty"`
}

type parkParams struct {
	Reason string `json:"reason"`
}

func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(*uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]any{"status": "ok", "pid": os.Getpid()})
	})
	d.server.Handle("status", d.handleStatus)
	d.server.Handle("target_add", d.handleTargetAdd)
	d.server.Handle("target_remove", d.handleTargetRemove)
	d.server.Handle("target_list", d.handleTargetList)
	d.server.Handle("observation_current", d.handleObservationCurrent)
	d.server.Handle("observation_history", d.handleObservationHistory)
	d.server.Handle("rank", d.handleRank)
	d.server.Handle("park", d.handlePark)
	d.server.Handle("resume", d.handleResume)
	d.server.Handle("shutdown", func(*uds.Request) *uds.Response {
		d.log.Infof("shutdown requested via admin socket")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) handleStatus(*uds.Request) *uds.Response {
	return uds.SuccessResponse(StatusData{
		Status: d.orch.Status(),
		Safety: d.safety.Check(),
		PID:    os.Getpid(),
	})
}

func (d *Daemon) handleTargetAdd(req *uds.Request) *uds.Response {
	var cfg scheduler.FieldConfig
	if resp := uds.DecodeParams(req, &cfg); resp != nil {
		return resp
	}
	obs, err := d.fields.add(cfg)
	if err != nil {
		return errorResponse(err)
	}
	d.log.Infof("target added via admin socket name=%q", obs.Name())
	return uds.SuccessResponse(obs.Status())
}

func (d *Daemon) handleTargetRemove(req *uds.Request) *uds.Response {
	var p nameParams
	if resp := uds.DecodeParams(req, &p); resp != nil {
		return resp
	}
	if p.Name == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "name is required")
	}
	ok, err := d.fields.remove(p.Name)
	if err != nil {
		return errorResponse(err)
	}
	if !ok {
		return uds.ErrorResponse(uds.ErrCodeNotFound, fmt.Sprintf("target %q not found", p.Name))
	}
	return uds.SuccessResponse(map[string]string{"removed": p.Name})
}

func (d *Daemon) handleTargetList(*uds.Request) *uds.Response {
	obs := d.sched.Observations()
	out := make([]scheduler.ObservationStatus, 0, len(obs))
	for _, o := range obs {
		out = append(out, o.Status())
	}
	return uds.SuccessResponse(out)
}

func (d *Daemon) handleObservationCurrent(*uds.Request) *uds.Response {
	cur := d.sched.CurrentObservation()
	if cur == nil {
		return uds.ErrorResponse(uds.ErrCodeNotFound, "no current observation")
	}
	return uds.SuccessResponse(cur.Status())
}

func (d *Daemon) handleObservationHistory(req *uds.Request) *uds.Response {
	var p limitParams
	if len(req.Params) > 0 {
		if resp := uds.DecodeParams(req, &p); resp != nil {
			return resp
		}
	}
	var data HistoryData
	for _, h := range d.sched.ObservedHistory() {
		data.Tonight = append(data.Tonight, HistoryItem{Time: h.Time, Observation: h.Observation.Name()})
	}
	if d.store != nil {
		ctx, cancel := context.WithTimeout(d.ctx, commandTimeout)
		defer cancel()
		sel, err := d.store.Selections(ctx, p.Limit)
		if err != nil {
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
		data.Recorded = sel
	}
	return uds.SuccessResponse(data)
}

func (d *Daemon) handleRank(req *uds.Request) *uds.Response {
	var p rankParams
	if len(req.Params) > 0 {
		if resp := uds.DecodeParams(req, &p); resp != nil {
			return resp
		}
	}
	t := d.clock()
	if p.Time != nil {
		t = *p.Time
	}
	ranked, err := d.sched.Rank(t)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	out := make([]RankItem, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, RankItem{
			Observation: r.Observation.Name(),
			Score:       r.Score,
			Priority:    r.Observation.Priority(),
		})
	}
	return uds.SuccessResponse(out)
}

func (d *Daemon) handlePark(req *uds.Request) *uds.Response {
	p := parkParams{Reason: "operator request"}
	if len(req.Params) > 0 {
		if resp := uds.DecodeParams(req, &p); resp != nil {
			return resp
		}
	}
	ctx, cancel := context.WithTimeout(d.ctx, commandTimeout)
	defer cancel()
	if err := d.orch.Park(ctx, p.Reason); err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(map[string]string{"state": d.orch.State().String()})
}

func (d *Daemon) handleResume(*uds.Request) *uds.Response {
	ctx, cancel := context.WithTimeout(d.ctx, commandTimeout)
	defer cancel()
	if err := d.orch.Resume(ctx); err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(map[string]string{"state": d.orch.State().String()})
}

// errorResponse maps domain errors onto admin error codes.
func errorResponse(err error) *uds.Response {
	switch {
	case errors.Is(err, scheduler.ErrInvalidObservation):
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	default:
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
}
