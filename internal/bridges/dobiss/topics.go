package dobiss

// TopicPrefix roots every Gray Logic topic.
const TopicPrefix = "graylogic"

// Topic kinds under TopicPrefix.
const (
	kindCommand  = "command"
	kindAck      = "ack"
	kindState    = "state"
	kindHealth   = "health"
	kindRequest  = "request"
	kindResponse = "response"
)

// topic builds graylogic/{kind}/dobiss[/{leaf}].
func topic(kind, leaf string) string {
	t := TopicPrefix + "/" + kind + "/" + Protocol
	if leaf != "" {
		t += "/" + leaf
	}
	return t
}

// Per-output topics, keyed by "module.output".

func CommandTopic(address string) string { return topic(kindCommand, address) }
func AckTopic(address string) string     { return topic(kindAck, address) }
func StateTopic(address string) string   { return topic(kindState, address) }

// Request/response topics, keyed by request ID.

func RequestTopic(requestID string) string  { return topic(kindRequest, requestID) }
func ResponseTopic(requestID string) string { return topic(kindResponse, requestID) }

// HealthTopic carries the retained bridge status and the Last Will.
func HealthTopic() string { return topic(kindHealth, "") }

// Single-level wildcard subscriptions.

func CommandSubscribeTopic() string { return topic(kindCommand, "+") }
func RequestSubscribeTopic() string { return topic(kindRequest, "+") }
func StateSubscribeTopic() string   { return topic(kindState, "+") }
