package types

import "time"

// LifecycleTransition classifies an instance lifecycle event.
type LifecycleTransition string

const (
	// TransitionLaunching covers an instance joining the fleet, including
	// promotion out of a warm pool.
	TransitionLaunching LifecycleTransition = "LAUNCHING"
	// TransitionDraining covers an instance leaving the fleet.
	TransitionDraining LifecycleTransition = "DRAINING"
	// TransitionUnrelated is anything the controller does not act on;
	// such events are logged and dropped without blocking the action.
	TransitionUnrelated LifecycleTransition = "UNRELATED"
)

// LifecycleAction is the result acknowledged back to the scaling group.
type LifecycleAction string

const (
	ActionContinue LifecycleAction = "CONTINUE"
	ActionAbandon  LifecycleAction = "ABANDON"
)

// LifecycleEvent is one instance lifecycle transition delivered to the
// controller. Token identifies the pending lifecycle action to acknowledge.
type LifecycleEvent struct {
	Transition   LifecycleTransition `json:"transition"`
	ScalingGroup string              `json:"scaling_group"`
	InstanceID   string              `json:"instance_id"`
	Token        string              `json:"token"`
	HookName     string              `json:"hook_name,omitempty"`
	Time         time.Time           `json:"time"`
}

// Actionable reports whether the event needs handling at all.
func (e *LifecycleEvent) Actionable() bool {
	return e.Transition == TransitionLaunching || e.Transition == TransitionDraining
}
