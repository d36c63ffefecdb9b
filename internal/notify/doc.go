// Package notify fans SubmissionRecorded events out to webhooks and to
// websocket subscribers of the live feed.
package notify
