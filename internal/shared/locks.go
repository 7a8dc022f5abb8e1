package shared

// ReceivingQueueLockKey builds the redis key guarding queue view rebuilds.
func ReceivingQueueLockKey() string {
	return "receiving:queue:lock"
}
