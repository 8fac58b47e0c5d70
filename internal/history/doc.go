// Package history keeps an audit log of start sequence runs and relay
// session transitions in SQLite.
//
// The log is write-mostly and never replayed: a restart always comes up
// with an idle sequence. Writes arrive from controller events through a
// Recorder, which queues them so the scheduler loop never waits on disk.
// A Pruner trims old session events on a daily cadence.
package history
