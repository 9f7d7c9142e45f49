// Package announce is the task submission surface of the bot.
//
// The conversational front-end composes a Draft step by step and hands it
// over in one atomic call: PublishNow for immediate fan-out, Schedule for a
// deferred one. Deferred drafts are persisted as tasks and armed as one-shot
// timers; at fire time the task is re-fetched by id, the recipient list is
// resolved fresh, the fan-out runs, and the task is removed.
package announce
