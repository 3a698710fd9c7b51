package infra

// RedisNamespace prefixes every key so multiple environments can share
// one Redis instance.
const RedisNamespace = "agentplane"

// State keys.
const (
	// RedisKeyHold stores the active compliance hold reason. Its mere
	// existence means the control plane is held.
	RedisKeyHold = RedisNamespace + ":control:hold"
)

// Pub/Sub channels.
const (
	// RedisChanHold broadcasts hold engage/release signals to every
	// running instance.
	RedisChanHold = RedisNamespace + ":control:hold-signal"

	// RedisChanRuleUpdate tells running policy engines to reload the
	// approval rule set after an administrator replaced it.
	RedisChanRuleUpdate = RedisNamespace + ":rules:update"
)
