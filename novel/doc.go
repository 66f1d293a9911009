// Package novel is the story pipeline controller.
//
// A job moves through outline, worldview, plot and cast selection and then
// drafts chapters one at a time. Each chapter is scored against a quality
// threshold (with bounded retries), checked for conflicts with what the
// story has already established, optionally reviewed by a person, and
// added to the job's knowledge base. A plot twist or branch can be applied
// mid-stream, after which the unwritten tail of the plan is regenerated.
//
// The pipeline is a graph.Engine over State. Nodes do the work; pure
// routers pick edge labels and a static edge table maps labels to nodes.
// Any selection node can pause the job for an external decision. The
// Controller persists the paused State to a store.Store and later resumes
// the job at the paused node with the caller's DecisionPayload merged in.
//
// In auto mode every decision is made by a Policy instead and the job runs
// to completion in one call.
package novel
