package coord

// Key layout. All payloads are string-safe JSON or plain integers.
const (
	keyActiveTasks = "parsing:active_tasks" // SET of book IDs with a running job
	keyQueue       = "parsing:queue"        // ZSET of job IDs scored by (priority, queued_at)
	keyQueueData   = "parsing:queue:data"   // HASH job ID -> task JSON
	keyProcessing  = "parsing:processing"   // HASH job ID -> task JSON, removed on late ack
	keyStats       = "parsing:stats"        // HASH of event counters
)

// heartbeatPrefix is also passed to the pop script, which appends the job ID
// server-side.
const heartbeatPrefix = "parsing:heartbeat:"

func keyUserTasks(userID string) string { return "parsing:user_tasks:" + userID }
func keyCooldown(bookID string) string  { return "parsing:cooldown:" + bookID }
func keyCancel(jobID string) string     { return "parsing:cancel:" + jobID }
func keyHeartbeat(jobID string) string  { return heartbeatPrefix + jobID }
