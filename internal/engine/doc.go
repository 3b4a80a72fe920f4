// Package engine implements the multi-step approval workflow state machine.
// It drives instances through their template's ordered steps by resolving
// eligible approvers, materializing per-approver tasks, evaluating group
// decision policies, and advancing or finalizing instances under optimistic
// concurrency control with bounded retry.
package engine
