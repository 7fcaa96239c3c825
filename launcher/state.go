// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package launcher

// Phase is the controller's state set. The string values are written
// verbatim to the status artifact.
type Phase string

func (p Phase) String() string {
	return string(p)
}

const (
	PhaseAwaitingMount  Phase = "awaiting_mount"
	PhaseAwaitingConfig Phase = "awaiting_config"
	PhaseSetup          Phase = "setup"
	PhaseBuilding       Phase = "building"
	PhaseAwaitingHealth Phase = "waiting_for_health"
	PhaseAttesting      Phase = "attesting"
	PhaseReady          Phase = "ready"
	// PhaseHold is the persistent-mode steady state; the status artifact
	// keeps reading "ready" while the VM idles.
	PhaseHold  Phase = "persistent_hold"
	PhaseError Phase = "error"
)

// Lifecycle events fired by the controller as stages complete.
type Event string

func (e Event) String() string {
	return string(e)
}

const (
	EventMountReady    Event = "mount_ready"
	EventConfigLoaded  Event = "config_loaded"
	EventSetupDone     Event = "setup_done"
	EventBuildSkipped  Event = "build_skipped"
	EventBuildDone     Event = "build_done"
	EventHealthChecked Event = "health_checked"
	EventAttested      Event = "attested"
	EventHold          Event = "hold"
	EventFail          Event = "fail"
)
