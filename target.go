package eventproc

// Target is the processing-target discriminator: a Processor either pumps
// a single, caller-pinned partition
// (direct-consumption mode, no coordination) or runs the cooperative
// balanced loop against a Balancer. Modeled as a closed sum rather than a
// type test on the shape of a configuration struct.
type Target interface {
	isTarget()
}

type fixedTarget struct {
	partitionID string
}

func (fixedTarget) isTarget() {}

type balancedTarget struct {
	balancer Balancer
}

func (balancedTarget) isTarget() {}

// ForPartition pins a Processor to a single partition id, bypassing
// ownership coordination entirely.
func ForPartition(partitionID string) Target {
	return fixedTarget{partitionID: partitionID}
}

// ForConsumerGroup selects cooperative, store-mediated balancing across
// every partition of the consumer group, driven by the given Balancer.
func ForConsumerGroup(b Balancer) Target {
	return balancedTarget{balancer: b}
}
