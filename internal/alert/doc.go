// Package alert delivers threshold alerts to notification channels.
//
// The scheduler hands an Alert to a Dispatcher once per failure streak. The
// Dispatcher fans it out to every Notifier on its own goroutine so delivery
// never delays sampling. Failed deliveries are logged and dropped.
package alert
