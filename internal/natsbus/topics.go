package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicEventsTask(taskID string) string {
	return fmt.Sprintf("events.task.%s", taskID)
}

func TopicEventsAgent(agentID string) string {
	return fmt.Sprintf("events.agent.%s", agentID)
}

func TopicEventsBus(msgType string) string {
	return fmt.Sprintf("events.bus.%s", msgType)
}

func TopicEventsSchedule(name string) string {
	return fmt.Sprintf("events.schedule.%s", name)
}

const (
	TopicEventsAll   = "events.>"
	TopicEventsTasks = "events.task.*"
	TopicEventsSwarm = "events.swarm.health"

	// Request/reply endpoints served by the gateway.
	TopicSubmitTask  = "swarm.tasks.submit"
	TopicTaskStatus  = "swarm.tasks.status"
	TopicSwarmStatus = "swarm.status"
)
