// Package actuator applies replica decisions to the consumer Deployment.
//
// The actuator is the only component that writes to the cluster. It reads the
// target Deployment, and either patches its replica count, creates it (owning
// mode) or deletes it (owning mode, on resource deletion).
//
// # Write Model
//
// Every write is a single API call:
//   - Replica changes are one merge patch of spec.replicas carrying the
//     resourceVersion observed in the same cycle, so a decision computed from a
//     stale read fails with a conflict instead of overwriting a newer edit.
//   - A Deployment whose replica count already matches the decision is not
//     written at all.
//   - Creation writes the full object, replicas included.
//
// No partial-write state is reachable, so an interrupted cycle leaves either
// the old or the new replica count in place.
//
// # Modes
//
// In managing mode the Deployment belongs to someone else. An absent target is
// reported as ErrTargetNotFound and left alone.
//
// In owning mode the Deployment is named after the QueueAutoscaler
// (see OwnedName), labelled, owned by the resource, and populated from the
// worker template with the queue connection parameters as environment
// variables:
//
//	QUEUE_HOST, QUEUE_NAME, QUEUE_USER, QUEUE_PASSWORD
//
// Deleting an already-absent Deployment is a success.
//
// # Usage
//
//	act := actuator.NewActuator(directClient, tmpl, 10*time.Second)
//	obs, err := act.Observe(ctx, ref)
//	decision := policy.Decide(depth, spec, obs.Current())
//	result, err := act.ApplyObserved(ctx, target, decision.Desired, mode, obs)
package actuator
