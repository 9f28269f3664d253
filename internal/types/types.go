// Package types defines the core data model shared by the store, the sync
// engine, and the office hub: the versioned Record envelope plus the typed
// payload schemas application code uses to read a record's fields.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Collection names known to the device and the hub. The core treats a
// record's fields as opaque; the names only scope keys and sync traffic.
const (
	CollectionProjects       = "projects"
	CollectionTasks          = "tasks"
	CollectionDailyReports   = "daily_reports"
	CollectionDeliveries     = "deliveries"
	CollectionQuotes         = "quotes"
	CollectionPurchaseOrders = "purchase_orders"
)

// Collections lists every known collection in a stable order.
var Collections = []string{
	CollectionProjects,
	CollectionTasks,
	CollectionDailyReports,
	CollectionDeliveries,
	CollectionQuotes,
	CollectionPurchaseOrders,
}

// KnownCollection reports whether name is one of the defined collections.
func KnownCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// Record is a versioned document belonging to a named collection.
//
// UpdatedAt is the sole conflict-resolution signal: it advances on every
// locally originated write and on every accepted remote merge. Deleted marks
// a tombstone; tombstoned records are retained until the remote confirms the
// delete so a concurrent pull cannot resurrect them.
type Record struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Fields     map[string]any `json:"fields"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Deleted    bool           `json:"deleted,omitempty"`
}

// Clone returns a deep copy of the record. Field values are copied via JSON
// round trip, which matches how payloads travel on the wire.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Fields != nil {
		raw, err := json.Marshal(r.Fields)
		if err == nil {
			var fields map[string]any
			if json.Unmarshal(raw, &fields) == nil {
				cp.Fields = fields
			}
		}
	}
	return &cp
}

// Project statuses carried from the office backend.
const (
	ProjectStatusPlanning  = "planning"
	ProjectStatusActive    = "active"
	ProjectStatusOnHold    = "on_hold"
	ProjectStatusCompleted = "completed"
	ProjectStatusClosed    = "closed"
)

// Task statuses and priorities.
const (
	TaskStatusPending      = "pending"
	TaskStatusAcknowledged = "acknowledged"
	TaskStatusInProgress   = "in_progress"
	TaskStatusCompleted    = "completed"
	TaskStatusBlocked      = "blocked"

	TaskPriorityLow    = "low"
	TaskPriorityMedium = "medium"
	TaskPriorityHigh   = "high"
	TaskPriorityUrgent = "urgent"
)

// Quote request statuses.
const (
	QuoteStatusPending  = "pending"
	QuoteStatusInReview = "in_review"
	QuoteStatusQuoted   = "quoted"
	QuoteStatusSent     = "sent"
	QuoteStatusAccepted = "accepted"
	QuoteStatusDeclined = "declined"
	QuoteStatusExpired  = "expired"
)

// Project is the typed payload for the projects collection.
type Project struct {
	Name              string  `json:"name"`
	Number            string  `json:"number,omitempty"`
	Description       string  `json:"description,omitempty"`
	Status            string  `json:"status,omitempty"`
	Address           string  `json:"address,omitempty"`
	City              string  `json:"city,omitempty"`
	State             string  `json:"state,omitempty"`
	ZipCode           string  `json:"zip_code,omitempty"`
	ClientName        string  `json:"client_name,omitempty"`
	GeneralContractor string  `json:"general_contractor,omitempty"`
	ContractValue     float64 `json:"contract_value,omitempty"`
	JobType           string  `json:"job_type,omitempty"`
}

// Task is the typed payload for the tasks collection.
type Task struct {
	ProjectID   string     `json:"project_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	CreatedByID string     `json:"created_by_id,omitempty"`
	Status      string     `json:"status,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DailyReport is the typed payload for the daily_reports collection.
type DailyReport struct {
	ProjectID           string         `json:"project_id"`
	SubmittedByID       string         `json:"submitted_by_id,omitempty"`
	ReportDate          string         `json:"report_date,omitempty"`
	CrewCount           int            `json:"crew_count,omitempty"`
	CrewDetails         map[string]int `json:"crew_details,omitempty"`
	WorkCompleted       string         `json:"work_completed,omitempty"`
	QuantitiesInstalled map[string]any `json:"quantities_installed,omitempty"`
	AreasWorked         []string       `json:"areas_worked,omitempty"`
	DelaysConstraints   string         `json:"delays_constraints,omitempty"`
	SafetyIncidents     string         `json:"safety_incidents,omitempty"`
	WeatherConditions   string         `json:"weather_conditions,omitempty"`
	WeatherImpact       string         `json:"weather_impact,omitempty"`
}

// Delivery is the typed payload for the deliveries collection.
type Delivery struct {
	ProjectID        string `json:"project_id"`
	PONumber         string `json:"po_number,omitempty"`
	Vendor           string `json:"vendor,omitempty"`
	Description      string `json:"description,omitempty"`
	ExpectedDate     string `json:"expected_date,omitempty"`
	ActualDate       string `json:"actual_date,omitempty"`
	StagingLocation  string `json:"staging_location,omitempty"`
	ReceivedByID     string `json:"received_by_id,omitempty"`
	QuantityOrdered  int    `json:"quantity_ordered,omitempty"`
	QuantityReceived int    `json:"quantity_received,omitempty"`
	HasDamage        bool   `json:"has_damage,omitempty"`
	HasShortage      bool   `json:"has_shortage,omitempty"`
	IssueNotes       string `json:"issue_notes,omitempty"`
}

// Quote is the typed payload for the quotes collection.
type Quote struct {
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status,omitempty"`
	Address       string  `json:"address,omitempty"`
	City          string  `json:"city,omitempty"`
	State         string  `json:"state,omitempty"`
	CustomerName  string  `json:"customer_name,omitempty"`
	CustomerPhone string  `json:"customer_phone,omitempty"`
	CustomerEmail string  `json:"customer_email,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
}

// PurchaseOrder is the typed payload for the purchase_orders collection.
type PurchaseOrder struct {
	ProjectID   string  `json:"project_id"`
	Number      string  `json:"number"`
	Vendor      string  `json:"vendor,omitempty"`
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	Status      string  `json:"status,omitempty"`
	OrderedAt   string  `json:"ordered_at,omitempty"`
}

// DecodeFields decodes a record's open field map into a typed payload
// struct. The core never calls this; it is the boundary where application
// code applies a schema to otherwise opaque payloads.
func DecodeFields[T any](r *Record) (T, error) {
	var out T
	raw, err := json.Marshal(r.Fields)
	if err != nil {
		return out, fmt.Errorf("encode fields: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s fields: %w", r.Collection, err)
	}
	return out, nil
}

// EncodeFields converts a typed payload struct into the open field map
// stored on a Record.
func EncodeFields(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return fields, nil
}
