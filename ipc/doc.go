// Package ipc connects the KPNC agent to other local processes.
//
// The agent serves a SignalR hub (AgentHub) that push ingress and consumer
// applications call into. Consumers that want reply notifications run their
// own hub (ReceiverHub) and drop a descriptor into a shared registry
// directory; the agent's notifier rediscovers them on every delivery.
package ipc
