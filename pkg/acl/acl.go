// Package acl implements the static role×message-type publish matrix
// checked during ingestion admission (§4.2 stage 1). The matrix is fixed
// at compile time; there is no runtime configuration surface for it, so a
// component cannot grant itself a new publish right.
package acl

import "github.com/ransomeye/core/pkg/rerrors"

// Role identifies the class of component attempting to publish.
type Role string

const (
	RoleAgent      Role = "Agent"
	RoleDPI        Role = "DPI"
	RoleUI         Role = "UI"
	RoleGovernor   Role = "Governor"
	RoleCore       Role = "Core"
	RoleIngestion  Role = "Ingestion"
	RoleDispatcher Role = "Dispatcher"
)

// MessageType identifies the class of message being published.
type MessageType string

const (
	Telemetry MessageType = "Telemetry"
	Command   MessageType = "Command"
	Query     MessageType = "Query"
	Alert     MessageType = "Alert"
	Heartbeat MessageType = "Heartbeat"
)

// matrix[role][messageType] reports whether role may publish messageType.
// Absence of an entry means deny. Transcribed from the bus ACL's publish
// table: Agent and DPI are sensor-side producers (telemetry/alert/
// heartbeat, never command); UI is read-only (query); Governor issues
// commands but never raw telemetry; Core is trusted for everything;
// Ingestion forwards telemetry/alert/heartbeat/query but never commands;
// Dispatcher issues commands/alerts/queries/heartbeats but never telemetry.
var matrix = map[Role]map[MessageType]bool{
	RoleAgent: {
		Telemetry: true,
		Heartbeat: true,
		Alert:     true,
	},
	RoleDPI: {
		Telemetry: true,
		Heartbeat: true,
		Alert:     true,
	},
	RoleUI: {
		Query: true,
	},
	RoleGovernor: {
		Command:   true,
		Alert:     true,
		Heartbeat: true,
		Query:     true,
	},
	RoleCore: {
		Telemetry: true,
		Command:   true,
		Query:     true,
		Alert:     true,
		Heartbeat: true,
	},
	RoleIngestion: {
		Telemetry: true,
		Alert:     true,
		Heartbeat: true,
		Query:     true,
	},
	RoleDispatcher: {
		Command:   true,
		Alert:     true,
		Query:     true,
		Heartbeat: true,
	},
}

// CanPublish reports whether role is permitted to publish messageType.
func CanPublish(role Role, messageType MessageType) bool {
	allowed, ok := matrix[role]
	if !ok {
		return false
	}
	return allowed[messageType]
}

// Check enforces CanPublish, returning an ACLViolation error on denial so
// callers can fold it directly into the admission chain's fixed response
// vocabulary.
func Check(role Role, messageType MessageType) error {
	if !CanPublish(role, messageType) {
		return rerrors.New("acl.Check", rerrors.ACLViolation, nil)
	}
	return nil
}
