// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipeline drives the batch loop: fetch, dispatch, collect, commit
// and advance the checkpoint.
//
// Batches are strictly sequential. A batch is committed only after every
// record in it resolved, and the checkpoint advances only after the commit
// succeeded for every record. A crash at any point therefore re-reads at
// most the batch in progress, and idempotent sink writes make the re-run
// converge to the same stored state.
//
// # States
//
// A run starts Running. Cancelling the context passed to Run moves it to
// Draining: no new records are dispatched and in-flight AI calls finish.
// If the batch in progress fully resolved it is committed and the run ends
// Stopped; otherwise it ends Aborted without touching the checkpoint. Fatal
// errors move a run straight to Aborted.
//
// # Usage
//
//	orch, err := pipeline.New(reader, proc, sink, checkpoints, cfg)
//	if err != nil {
//	    return err
//	}
//	report, err := orch.Run(ctx)
//	os.Exit(report.ExitCode())
package pipeline
