// Package kpnc implements the device-side agent of the Kuroba push
// notification client (KPNC).
//
// It keeps the push registration token synchronized with the KPNC server,
// relays inbound push messages to subscribers, and notifies a separately
// installed consumer application about new replies.
//
// The ipc subpackage provides the SignalR transport used for push ingress,
// external actions, and cross-process delivery.
package kpnc
