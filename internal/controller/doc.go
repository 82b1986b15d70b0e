// Package controller implements the control loop that turns reconcile requests
// into replica changes.
//
// # Reconciliation Flow
//
// For every request the loop:
//
//  1. Resolves the AutoscaleSpec and the target Deployment (Resolver)
//  2. Reads the queue depth from the metric source
//  3. Reads the current replica count of the target
//  4. Runs the scaling policy
//  5. Applies the decision through the actuator
//
// A failed metric read ends the cycle before step 3: no decision is made and
// the replica count is left as it is. Deleted requests skip steps 2 to 4; in
// owning mode the consumer Deployment is deleted, in managing mode it is left
// alone.
//
// # Concurrency
//
// Requests are resolved on arrival and dispatched to one worker goroutine per
// target Deployment, so two resources naming the same Deployment share a worker.
// A worker handles its requests strictly in arrival order, so a late decision
// can never overtake a newer one for the same Deployment. Distinct Deployments
// run in parallel. A request that cannot be resolved runs on a worker keyed by
// its resource. A worker is retired after a Deleted request; a worker created
// later for the same key waits for the retired one to finish first.
//
// # Error Handling
//
// Every steady-state error is logged with the target identity and counted in
// queue_autoscaler_reconcile_total; the loop itself only stops when its
// context ends or its source fails unrecoverably. On shutdown, in-flight calls
// run to completion or to their own timeout, and queued requests are dropped.
//
// # Usage
//
// Loop is a controller-runtime Runnable:
//
//	loop := &controller.Loop{
//		Source:   src,
//		Metrics:  depthSource,
//		Policy:   policy,
//		Actuator: act,
//		Resolver: resolver,
//		Mode:     interfaces.ModeManaging,
//	}
//	if err := mgr.Add(loop); err != nil {
//		setupLog.Error(err, "unable to add control loop")
//		os.Exit(1)
//	}
package controller
