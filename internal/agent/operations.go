package agent

import (
	"encoding/json"
	"strconv"
	"strings"

	"maintline/internal/apperr"
	"maintline/internal/engine"
)

const (
	OpCreateWorkOrder   = "create_work_order"
	OpCompleteWorkOrder = "complete_work_order"
)

// Operation is the closed set of mutations a draft can carry.
type Operation interface {
	operationType() string
}

// CompleteWorkOrder drives the referenced work order to COMPLETE.
type CompleteWorkOrder struct {
	WorkOrderID string
}

// CreateWorkOrder creates a work order from the draft's data section.
type CreateWorkOrder struct {
	Request engine.CreateRequest
	Summary string
}

func (CompleteWorkOrder) operationType() string { return OpCompleteWorkOrder }
func (CreateWorkOrder) operationType() string   { return OpCreateWorkOrder }

// draftPayload is the stored JSON object; unknown keys survive a round trip.
type draftPayload map[string]any

func parsePayload(raw string) (draftPayload, error) {
	p := draftPayload{}
	if strings.TrimSpace(raw) == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, apperr.InvalidInput("Invalid draft payload")
	}
	if p == nil {
		p = draftPayload{}
	}
	return p, nil
}

func (p draftPayload) data() (map[string]any, bool) {
	d, ok := p["data"].(map[string]any)
	return d, ok
}

// dataSection is the data object, or the payload without its bookkeeping keys.
func (p draftPayload) dataSection() map[string]any {
	out := map[string]any{}
	if d, ok := p.data(); ok {
		for k, v := range d {
			out[k] = v
		}
		return out
	}
	for k, v := range p {
		switch k {
		case "summary", "result", "appliedAt":
			continue
		}
		out[k] = v
	}
	return out
}

// workOrderIdentifier looks at workOrderId then id, top level before data.
func (p draftPayload) workOrderIdentifier() string {
	d, _ := p.data()
	for _, key := range []string{"workOrderId", "id"} {
		if v, ok := p[key]; ok {
			return normalizeIdentifier(v)
		}
		if v, ok := d[key]; ok {
			return normalizeIdentifier(v)
		}
	}
	return ""
}

func normalizeIdentifier(v any) string {
	switch id := v.(type) {
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return strconv.FormatInt(n, 10)
		}
		return id.String()
	case string:
		return strings.TrimSpace(id)
	}
	return ""
}

func (p draftPayload) encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeOperation maps a stored draft onto its operation.
func DecodeOperation(operationType string, payload draftPayload) (Operation, error) {
	op := strings.ToLower(strings.TrimSpace(operationType))
	switch op {
	case "":
		return nil, apperr.InvalidInput("Draft action missing operation type")
	case OpCompleteWorkOrder:
		id := payload.workOrderIdentifier()
		if id == "" {
			return nil, apperr.InvalidInput("Draft payload missing workOrderId")
		}
		return CompleteWorkOrder{WorkOrderID: id}, nil
	case OpCreateWorkOrder:
		section := payload.dataSection()
		if len(section) == 0 {
			return nil, apperr.InvalidInput("Draft payload missing data for work order creation")
		}
		var req struct {
			engine.CreateRequest
			Summary string `json:"summary"`
		}
		raw, err := json.Marshal(section)
		if err != nil {
			return nil, apperr.InvalidInput("Invalid draft payload")
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, apperr.InvalidInput("Invalid draft payload")
		}
		if strings.TrimSpace(req.Title) == "" {
			return nil, apperr.InvalidInput("Draft payload missing title")
		}
		return CreateWorkOrder{Request: req.CreateRequest, Summary: strings.TrimSpace(req.Summary)}, nil
	}
	return nil, apperr.NotImplemented("Unsupported draft operation: %s", operationType)
}
