// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package cacheclient

import "encoding/json"

// Object is one cache object submitted for negotiation. Refs lists the
// keys of the objects this one depends on; the service uses them to
// keep dependencies alive for as long as this object is.
type Object struct {
	Key  string   `json:"key"`
	Refs []string `json:"refs"`
}

// MarshalJSON always emits refs as an array, never null.
func (object Object) MarshalJSON() ([]byte, error) {
	refs := object.Refs
	if refs == nil {
		refs = []string{}
	}
	return json.Marshal(struct {
		Key  string   `json:"key"`
		Refs []string `json:"refs"`
	}{object.Key, refs})
}

// PendingObject is an object the service does not yet hold.
type PendingObject struct {
	PresignedURL string `json:"presigned_url"`
}

// PendingClosure is the service's answer to a negotiation.
type PendingClosure struct {
	ID        string `json:"id"`
	StartedAt string `json:"started_at"`

	// PendingObjects maps object key to upload target for every
	// submitted object the service is missing. Objects absent from the
	// map are already durable on the service.
	PendingObjects map[string]PendingObject `json:"pending_objects"`
}

type negotiateRequest struct {
	Closure string   `json:"closure"`
	Objects []Object `json:"objects"`
}
