package mqtt

import (
	"fmt"
	"strings"
)

// Gray Logic bridge topics use the flat scheme
// graylogic/{category}/{protocol}/{address_or_id}.
const (
	// TopicPrefix is the root of every Gray Logic topic.
	TopicPrefix = "graylogic"

	// Protocol is this bridge's protocol segment.
	Protocol = "myq"
)

// Topics builds the myQ bridge topics. Using these helpers keeps topic
// naming consistent between the bridge, its tests, and Core.
//
//	topics := mqtt.Topics{}
//	topics.State("CG0812345678") // graylogic/state/myq/CG0812345678
type Topics struct{}

// State is the retained device state topic.
func (Topics) State(serial string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, serial)
}

// Command is the topic Core publishes device commands on.
func (Topics) Command(serial string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, serial)
}

// Ack is the topic for command acknowledgements.
func (Topics) Ack(serial string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, serial)
}

// Request is the topic Core publishes bridge requests on.
func (Topics) Request(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// Response is the topic for request responses.
func (Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// Health is the retained bridge health topic. It doubles as the Last Will topic.
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// Discovery is where pairable device lists are published.
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// AllCommands matches every device command for this bridge.
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// AllRequests matches every request for this bridge.
func (Topics) AllRequests() string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, Protocol)
}

// LastSegment returns the part of a topic after the final slash
// (device serial or request id).
func LastSegment(topic string) string {
	return topic[strings.LastIndex(topic, "/")+1:]
}
