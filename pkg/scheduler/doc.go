// Package scheduler runs the control loop of the bot: a cooperative
// 30-second tick that reconciles the calendar, applies negotiation
// timeouts, evaluates answered events, drives materialized slots through
// warning/start/end, and persists the snapshot.
package scheduler
