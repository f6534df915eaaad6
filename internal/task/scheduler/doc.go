// Package scheduler is the durable trigger registry of the job engine.
//
// It keeps cron and one-shot triggers by job id, persists them through a
// storage.TriggerStore so they survive restarts, and on every firing enqueues
// a task into the engine. Execution and retries belong to engine.Service.
package scheduler
