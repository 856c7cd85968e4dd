package application

import "expvar"

// Counters exposed on /debug/vars.
var (
	usersCreated        = expvar.NewInt("users_created")
	usersDeleted        = expvar.NewInt("users_deleted")
	eventsPublished     = expvar.NewInt("user_events_published")
	eventPublishFailure = expvar.NewInt("user_events_publish_failures")
	outboxDelivered     = expvar.NewInt("outbox_delivered")
	outboxRetried       = expvar.NewInt("outbox_retried")
	outboxDead          = expvar.NewInt("outbox_dead")
)
