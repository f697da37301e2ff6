/*
Package eventproc implements a distributed partition-ownership coordinator
and consumer pump supervisor for an event-streaming service.

A fleet of cooperating Processor instances, each identified by a unique
owner id and bound to one consumer group on one event hub, collectively
consume every partition of that hub exactly-once-per-group. Each instance
discovers partitions, claims a fair share of them through a shared
CheckpointStore, spawns a per-partition receive pump, periodically persists
checkpoints supplied by user code, and voluntarily surrenders ownership on
shutdown so peers may pick up its work.

The package does not ship a transport client or a durable checkpoint store:
both are external collaborators, injected by the caller as implementations
of the Transport and CheckpointStore interfaces.
*/
package eventproc
