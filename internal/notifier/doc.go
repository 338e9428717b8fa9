// Package notifier announces newly discovered events.
//
// The pipeline calls a Notifier with the events a run found for the first
// time. Twitter posts one status per event with a pause between posts;
// DryRunNotifier prints the same text instead. Notification failures are
// reported to the caller but never undo a persisted run.
package notifier
