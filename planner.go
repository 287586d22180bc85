package signforge

// PlanRebuild combines the device verdict, per-task release verdicts, each
// task's source kind, and the run-scoped force flag into one total plan.
//
// Priority per task: force > device change > untracked source > release
// verdict. A device change rebuilds every task because it invalidates all
// provisioning profiles regardless of release state. Decisions are
// independent of task ordering.
func PlanRebuild(tasks []Task, deviceChanged bool, checks map[string]ReleaseCheck, force bool) RebuildPlan {
	plan := RebuildPlan{Decisions: make(map[string]Decision, len(tasks))}
	for _, task := range tasks {
		plan.Decisions[task.TaskName] = decideTask(task, deviceChanged, checks, force)
	}
	for _, decision := range plan.Decisions {
		if decision.Reason == ReasonForcedOverride || decision.Reason == ReasonDeviceListChanged {
			plan.RebuildAll = true
			break
		}
	}
	return plan
}

func decideTask(task Task, deviceChanged bool, checks map[string]ReleaseCheck, force bool) Decision {
	if force {
		return Decision{Rebuild: true, Reason: ReasonForcedOverride}
	}
	if deviceChanged {
		return Decision{Rebuild: true, Reason: ReasonDeviceListChanged}
	}
	if task.SourceKind() == SourceDirectURL {
		// No version oracle exists, so staleness cannot be disproved.
		return Decision{Rebuild: true, Reason: ReasonUntrackedSource}
	}
	check, ok := checks[task.TaskName]
	if !ok {
		// Release metadata never arrived for this task; rebuilding is the
		// safe answer, skipping could publish a stale artifact forever.
		return Decision{Rebuild: true, Reason: ReasonVersionChanged}
	}
	if check.Changed {
		return Decision{Rebuild: true, Reason: check.Reason}
	}
	return Decision{Rebuild: false}
}
