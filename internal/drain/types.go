// Package drain implements the two-stage drain/terminate message pipeline:
// a node selected for removal is first shepherded through
// cluster-side maintenance (cordon, evict, wait out the maintenance window)
// before it is handed to its owning resource group for cloud-side
// termination. The two stages are cloud-managed, at-least-once queues;
// nothing here blocks on an in-process channel.
package drain

import "encoding/json"

// Host is the queue envelope carried through both stages (spec's DrainHost):
// the wire body is the instance/hostname identity, while Sender and
// ReceiptHandle are message metadata attached by the queue transport rather
// than part of the JSON payload.
type Host struct {
	InstanceID string `json:"instance_id"`
	IP         string `json:"ip"`
	Hostname   string `json:"hostname"`
	GroupID    string `json:"group_id"`

	// Sender identifies the resource-group backend tag (e.g. "asg", "sfr")
	// this host belongs to, carried as the message's Sender attribute so the
	// termination stage can route back to the correct backend without
	// holding a live ResourceGroup handle across the queue hop.
	Sender string `json:"-"`

	// ReceiptHandle is the queue's handle for deleting this specific
	// delivery; it is opaque and only valid for the delivery it came with.
	ReceiptHandle string `json:"-"`
}

// wireBody is the JSON-marshaled subset of Host that crosses the queue.
type wireBody struct {
	InstanceID string `json:"instance_id"`
	IP         string `json:"ip"`
	Hostname   string `json:"hostname"`
	GroupID    string `json:"group_id"`
}

func (h Host) marshalBody() ([]byte, error) {
	return json.Marshal(wireBody{
		InstanceID: h.InstanceID,
		IP:         h.IP,
		Hostname:   h.Hostname,
		GroupID:    h.GroupID,
	})
}

func unmarshalBody(body []byte) (Host, error) {
	var w wireBody
	if err := json.Unmarshal(body, &w); err != nil {
		return Host{}, err
	}
	return Host{InstanceID: w.InstanceID, IP: w.IP, Hostname: w.Hostname, GroupID: w.GroupID}, nil
}
