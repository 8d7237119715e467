package idempotency

// Key derives the idempotency key for a step action. It is stable across
// restarts so a re-driven instance always presents the same key downstream.
func Key(instanceID, stepName string) string {
	return instanceID + ":" + stepName
}

// CompensationKey derives the key for a step's compensation. It is distinct
// from the action key so an action and its undo never collide.
func CompensationKey(instanceID, stepName string) string {
	return instanceID + ":" + stepName + ":c"
}
