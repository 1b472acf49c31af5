package bus

import "time"

// Topic names carried on the event log. Each stage consumes exactly one
// trigger topic and publishes the next stage's trigger on success.
const (
	TopicScriptRequest  = "script-request"
	TopicAssetsRequest  = "assets-request"
	TopicRenderTrigger  = "render-trigger"
	TopicUploadTrigger  = "upload-trigger"
	TopicUploadFailed   = "upload-failed"
	TopicRegenRequested = "regeneration-requested"
)

// Consumer group names. One consumer per (group, topic) pair runs inside a
// daemon; the render group is shared across tenants so a single renderer pool
// serves every channel.
const (
	GroupScriptWorkers = "script-workers"
	GroupAssetWorkers  = "asset-workers"
	GroupRendererPool  = "renderer-group"
	GroupUploadWorkers = "upload-workers"
	GroupRecovery      = "recovery-group"
)

// TenantGroup scopes a consumer group to one tenant so daemons sharing a bus
// database keep independent offsets. The shared renderer pool uses its group
// name unscoped.
func TenantGroup(base, tenantID string) string {
	if tenantID == "" {
		return base
	}
	return base + ":" + tenantID
}

// Event is a single record on the append-only log. The log's autoincrement
// identifier provides the total order; events for the same item therefore
// arrive in publish order.
type Event struct {
	ID          int64
	Topic       string
	ItemID      string
	TenantID    string
	Payload     string
	PublishedAt time.Time
}

// DeadLetter is an event parked after delivery retries were exhausted.
type DeadLetter struct {
	ID        int64
	EventID   int64
	Topic     string
	ItemID    string
	TenantID  string
	Payload   string
	GroupName string
	Attempts  int
	LastError string
	DeadAt    time.Time
}
