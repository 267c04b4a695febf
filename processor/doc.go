// Package processor runs source records through the AI extractor.
//
// A Processor owns a fixed-size ants worker pool (one worker per allowed
// in-flight call) and a token bucket shared by every worker. Each record moves
// through Pending, InFlight and then either Success or PermanentFailure;
// transient failures loop back to InFlight after an exponential, jittered
// pause until the retry budget is spent.
//
// ProcessBatch is a barrier: it returns only after every dispatched record
// has reported its outcome over a channel, so callers can make whole-batch
// decisions such as committing results and advancing a checkpoint.
package processor
