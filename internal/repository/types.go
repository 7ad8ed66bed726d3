package repository

import "time"

// ── Closed enumerations ───────────────────────────────────────────────────────

// EntityType identifies the kind of procurement document under approval.
type EntityType string

const (
	EntityProcurementRequest EntityType = "procurement_request"
	EntityPurchaseOrder      EntityType = "purchase_order"
)

// Valid reports whether the value is one of the known entity types.
func (t EntityType) Valid() bool {
	return t == EntityProcurementRequest || t == EntityPurchaseOrder
}

// ApproverRole is the role a level requires of its approvers.
type ApproverRole string

const (
	RoleDepartmentApprover ApproverRole = "department_approver"
	RoleSourcingManager    ApproverRole = "sourcing_manager"
	RoleSourcingExecutive  ApproverRole = "sourcing_executive"
	RoleAdmin              ApproverRole = "admin"
)

// Valid reports whether the value is one of the known approver roles.
func (r ApproverRole) Valid() bool {
	switch r {
	case RoleDepartmentApprover, RoleSourcingManager, RoleSourcingExecutive, RoleAdmin:
		return true
	}
	return false
}

// ApprovalStatus is the state of a single approval row.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// StepStatus is the derived aggregate state of one level in a workflow.
// "skipped" only ever appears for levels bypassed at initiation.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
	StepSkipped  StepStatus = "skipped"
)

// ── Persisted types ───────────────────────────────────────────────────────────

// ApprovalHierarchy is a named, ordered set of approval levels for one
// entity type. Configuration data; read-only to the engine at run time.
type ApprovalHierarchy struct {
	ID          string
	EntityType  EntityType
	Name        string
	Description *string
	IsActive    bool
	IsDefault   bool
	// Conditions is reserved for rule-based selection; not consulted today.
	Conditions map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ApprovalLevel is one stage within a hierarchy.
type ApprovalLevel struct {
	ID            string
	HierarchyID   string
	LevelNumber   int
	Name          string
	Description   *string
	RequiredRole  ApproverRole
	RequiredCount int
	IsParallel    bool
	TimeoutHours  *int
	SortOrder     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Approval is a single approver's unit of work for one level of one
// entity's workflow. Created pending, decided exactly once, never deleted.
type Approval struct {
	ID          string
	EntityType  EntityType
	EntityID    string
	ApproverID  string
	LevelID     string
	LevelNumber int
	Status      ApprovalStatus
	AssignedAt  time.Time
	RequiredBy  *time.Time
	ActedAt     *time.Time
	Comments    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// User is a read-only row from the platform user directory.
type User struct {
	ID         string
	Name       string
	Role       ApproverRole
	Department *string
	IsActive   bool
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID                 string
	EntityType         EntityType
	EntityID           string
	ApprovalID         *string
	Action             string // submitted | approved | rejected | finalized
	PerformedBy        string
	PerformedAt        time.Time
	EntityStatusBefore *string
	EntityStatusAfter  *string
	Metadata           map[string]interface{}
}
