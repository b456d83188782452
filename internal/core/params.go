package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TaskParams is the typed parameter bag for one task type. Each task type has
// its own variant, decoded and validated when the task is constructed rather
// than when it first runs.
type TaskParams interface {
	Validate() error
}

// InventoryCheckParams configures the inventory_check routine.
type InventoryCheckParams struct {
	LowStockThreshold int      `json:"low_stock_threshold"`
	IncludeVariants   bool     `json:"include_variants"`
	Locations         []string `json:"locations,omitempty"`
}

func (p *InventoryCheckParams) Validate() error {
	if p.LowStockThreshold < 0 {
		return fmt.Errorf("low_stock_threshold must be non-negative")
	}
	return nil
}

// PriceOptimizationParams configures the price_optimization routine.
// Bounds keep an agent from repricing outside the owner's comfort band.
type PriceOptimizationParams struct {
	MaxChangePercent float64  `json:"max_change_percent"`
	FloorPrice       *float64 `json:"floor_price,omitempty"`
	CeilingPrice     *float64 `json:"ceiling_price,omitempty"`
	ProductIDs       []string `json:"product_ids,omitempty"`
}

func (p *PriceOptimizationParams) Validate() error {
	if p.MaxChangePercent <= 0 || p.MaxChangePercent > 50 {
		return fmt.Errorf("max_change_percent must be in (0, 50]")
	}
	if p.FloorPrice != nil && *p.FloorPrice < 0 {
		return fmt.Errorf("floor_price must be non-negative")
	}
	if p.FloorPrice != nil && p.CeilingPrice != nil && *p.CeilingPrice < *p.FloorPrice {
		return fmt.Errorf("ceiling_price must not be below floor_price")
	}
	return nil
}

// OrderFulfillmentParams configures the order_fulfillment routine.
type OrderFulfillmentParams struct {
	MaxOrdersPerRun int      `json:"max_orders_per_run"`
	Carriers        []string `json:"carriers,omitempty"`
	NotifyCustomer  bool     `json:"notify_customer"`
}

func (p *OrderFulfillmentParams) Validate() error {
	if p.MaxOrdersPerRun <= 0 {
		return fmt.Errorf("max_orders_per_run must be positive")
	}
	return nil
}

// MarketingParams configures the marketing_automation routine.
type MarketingParams struct {
	Channel    string   `json:"channel"`
	SegmentIDs []string `json:"segment_ids,omitempty"`
	DailyCap   int      `json:"daily_cap"`
}

func (p *MarketingParams) Validate() error {
	switch p.Channel {
	case "email", "sms", "push":
	default:
		return fmt.Errorf("channel must be one of email, sms, push")
	}
	if p.DailyCap < 0 {
		return fmt.Errorf("daily_cap must be non-negative")
	}
	return nil
}

// DataSyncParams configures the data_sync routine.
type DataSyncParams struct {
	Direction string   `json:"direction"`
	Entities  []string `json:"entities"`
}

func (p *DataSyncParams) Validate() error {
	switch p.Direction {
	case "pull", "push", "both":
	default:
		return fmt.Errorf("direction must be one of pull, push, both")
	}
	if len(p.Entities) == 0 {
		return fmt.Errorf("at least one entity is required")
	}
	return nil
}

// CustomParams is a free-form bag for custom tasks; only well-formedness is
// enforced since the capability executor owns its semantics.
type CustomParams map[string]any

func (p CustomParams) Validate() error { return nil }

// DecodeParams decodes and validates the raw parameter JSON for a task type.
// Unknown fields are rejected so typos surface at construction time.
func DecodeParams(t TaskType, raw json.RawMessage) (TaskParams, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var params TaskParams
	switch t {
	case TaskTypeInventoryCheck:
		params = &InventoryCheckParams{}
	case TaskTypePriceOptimization:
		params = &PriceOptimizationParams{}
	case TaskTypeOrderFulfillment:
		params = &OrderFulfillmentParams{}
	case TaskTypeMarketingAutomation:
		params = &MarketingParams{}
	case TaskTypeDataSync:
		params = &DataSyncParams{}
	case TaskTypeCustom:
		p := CustomParams{}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode custom parameters: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown task type %q", t)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(params); err != nil {
		return nil, fmt.Errorf("decode %s parameters: %w", t, err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%s parameters: %w", t, err)
	}
	return params, nil
}
