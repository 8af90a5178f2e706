// Package models defines the core data structures exchanged between the
// panel client, the command gateway and the audit trail.
package models

import (
	"fmt"
	"time"
)

// NotAvailable is the value of any panel field the parser could not locate.
const NotAvailable = "N/A"

// Credentials holds the panel account used for every session.
type Credentials struct {
	// Username is the panel login name.
	Username string
	// Password is the panel login password.
	Password string
}

// VPSSpec is the input of a VPS creation request.
type VPSSpec struct {
	// Name is the unique identifier of the VPS within the panel.
	Name string
	// MemoryGB is the amount of RAM in gigabytes.
	MemoryGB int
	// CPU is the number of virtual cores.
	CPU int
	// DiskGB is the disk size in gigabytes.
	DiskGB int
	// OS is the panel's OS image identifier.
	OS string
	// User is the panel account that will own the VPS.
	User string
	// Tags is a free-form tag string, possibly empty.
	Tags string
}

// Validate reports the first problem with the spec, or nil.
func (s VPSSpec) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("name is required")
	case s.MemoryGB <= 0:
		return fmt.Errorf("memory must be a positive number of GB")
	case s.CPU <= 0:
		return fmt.Errorf("cpu must be a positive number of cores")
	case s.DiskGB <= 0:
		return fmt.Errorf("disk must be a positive number of GB")
	case s.OS == "":
		return fmt.Errorf("os is required")
	case s.User == "":
		return fmt.Errorf("user is required")
	}
	return nil
}

// VPSRecord is the result of a successful creation.
type VPSRecord struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	SSHHost    string `json:"ssh_host"`
	SSHPort    string `json:"ssh_port"`
	Status     string `json:"status"`
	Memory     string `json:"memory"`
	CPU        string `json:"cpu"`
	Disk       string `json:"disk"`
	OS         string `json:"os"`
	SSHCommand string `json:"ssh_command"`
	// Missing lists the fields that fell back to NotAvailable.
	Missing []string `json:"missing,omitempty"`
}

// VPSSummary is one row of the panel's VPS listing.
type VPSSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Memory string `json:"memory"`
	CPU    string `json:"cpu"`
	Disk   string `json:"disk"`
	// Owner is empty when the panel table has no owner column.
	Owner string `json:"owner,omitempty"`
}

// ListScope narrows a listing. All wins over Owner.
type ListScope struct {
	All   bool
	Owner string
}

// SSHInfo holds the connection details of a VPS.
type SSHInfo struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Command  string `json:"command"`
}

// ActionResult is the uniform outcome of every mutating panel call.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Action is an operation performed on an existing VPS.
type Action string

const (
	ActionStart     Action = "start"
	ActionStop      Action = "stop"
	ActionRestart   Action = "restart"
	ActionReinstall Action = "reinstall"
	ActionDelete    Action = "delete"
)

// Valid reports whether a is one of the panel's per-VPS actions.
func (a Action) Valid() bool {
	switch a {
	case ActionStart, ActionStop, ActionRestart, ActionReinstall, ActionDelete:
		return true
	}
	return false
}

// Past returns the past-tense verb used in user-facing messages.
func (a Action) Past() string {
	switch a {
	case ActionStop:
		return "stopped"
	case ActionDelete:
		return "deleted"
	default:
		return string(a) + "ed"
	}
}

// Role is the privilege level of a panel account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a role the panel accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Caller identifies whoever issued a chat command.
type Caller struct {
	// ID is the opaque platform user identifier.
	ID string
	// Name is the platform display name.
	Name string
}

// Outcome classifies how a gateway command ended.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeDenied  Outcome = "denied"
	OutcomeFailed  Outcome = "failed"
	OutcomeInvalid Outcome = "invalid"
)

// AuditEntry is one row of the command audit trail.
type AuditEntry struct {
	ID        string
	CallerID  string
	Command   string
	Args      string
	Outcome   Outcome
	CreatedAt time.Time
}
