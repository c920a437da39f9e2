// Package notify delivers user-facing notifications about asset changes.
//
// Mutations hand notifications to a Dispatcher after their transaction commits.
// Delivery happens in the background, detached from the request, so a slow or
// failing notifier never affects the outcome of the mutation.
package notify
